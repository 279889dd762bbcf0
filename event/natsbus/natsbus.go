// Package natsbus provides a NATS-backed event bus for multi-process
// deployments. Events are JSON-encoded and published through JetStream
// onto one subject per topic, under a shared stream so external
// consumers can replay them; in-process subscriptions use core NATS
// delivery.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nightBaker/fleans-sub002/event"
)

const (
	// StreamName is the JetStream stream capturing all bus subjects.
	StreamName = "FLEANS"

	subjectPrefix = "fleans."
)

// Ensure Bus implements the event.Bus contract.
var _ event.Bus = (*Bus)(nil)

// Bus is a NATS-backed implementation of event.Bus.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Connect dials the NATS server, initializes JetStream, and ensures the
// bus stream exists. An empty URL falls back to the default server.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Bus, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: jetstream: %w", err)
	}

	b := &Bus{nc: nc, js: js, logger: logger}
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// ensureStream creates the bus stream when it does not exist yet.
func (b *Bus) ensureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  jetstream.FileStorage,
	}
	_, err := b.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("natsbus: stream lookup: %w", err)
	}
	if _, err := b.js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("natsbus: create stream: %w", err)
	}
	return nil
}

// Publish JSON-encodes the payload and publishes it, waiting for the
// JetStream acknowledgement.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("natsbus: marshal %s: %w", topic, err)
	}
	if _, err := b.js.Publish(ctx, Subject(topic), data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler receives the
// decoded payload struct for known topics, matching the in-process bus.
func (b *Bus) Subscribe(topic string, h event.Handler) func() {
	sub, err := b.nc.Subscribe(Subject(topic), func(msg *nats.Msg) {
		payload, err := decode(topic, msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable event",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			return
		}
		h(context.Background(), payload)
	})
	if err != nil {
		b.logger.Error("subscribe failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return func() {}
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", slog.String("topic", topic))
		}
	}
}

// Close drains the connection so in-flight handlers finish.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("natsbus: drain: %w", err)
	}
	return nil
}

// Subject maps a bus topic to its NATS subject.
func Subject(topic string) string {
	return subjectPrefix + topic
}

// Topic maps a NATS subject back to its bus topic.
func Topic(subject string) string {
	return strings.TrimPrefix(subject, subjectPrefix)
}

// decode unmarshals a message into the payload struct for its topic.
// Unknown topics decode into a generic map.
func decode(topic string, data []byte) (any, error) {
	var payload any
	switch topic {
	case event.TopicActivityExecuted:
		payload = &event.ActivityExecuted{}
	case event.TopicEvaluateCondition:
		payload = &event.EvaluateCondition{}
	case event.TopicExecuteScript:
		payload = &event.ExecuteScript{}
	case event.TopicWorkflowCompleted:
		payload = &event.WorkflowCompleted{}
	case event.TopicWorkflowFailed:
		payload = &event.WorkflowFailed{}
	case event.TopicChildWorkflowCompleted:
		payload = &event.ChildWorkflowCompleted{}
	case event.TopicChildWorkflowFailed:
		payload = &event.ChildWorkflowFailed{}
	default:
		payload = &map[string]any{}
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, err
	}
	// Handlers receive payloads by value, matching the in-process bus.
	switch p := payload.(type) {
	case *event.ActivityExecuted:
		return *p, nil
	case *event.EvaluateCondition:
		return *p, nil
	case *event.ExecuteScript:
		return *p, nil
	case *event.WorkflowCompleted:
		return *p, nil
	case *event.WorkflowFailed:
		return *p, nil
	case *event.ChildWorkflowCompleted:
		return *p, nil
	case *event.ChildWorkflowFailed:
		return *p, nil
	default:
		return *payload.(*map[string]any), nil
	}
}
