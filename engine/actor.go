package engine

import (
	"context"
	"time"

	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/middleware"
)

// turn is one unit of work applied to an instance. Turns for the same
// instance never overlap.
type turn struct {
	name string
	// mutating turns checkpoint the instance after the handler commits.
	mutating bool
	fn       func(ctx context.Context, a *actor) error
	errc     chan error
}

// pendingWork is a routing or script decision suspended on an
// asynchronous evaluation result.
type pendingWork struct {
	ai *instance.ActivityInstance
	// flowID is the sequence flow or error connection under evaluation;
	// empty for script executions.
	flowID string
	// errorRoute marks a suspension inside error-connection routing.
	errorRoute bool
	// result is the completion result held back until routing resolves.
	result any
	timer  *time.Timer
}

// actor owns one workflow instance. Only its goroutine touches wf and
// pending.
type actor struct {
	id      id.InstanceID
	wf      *instance.WorkflowInstance
	mailbox chan *turn
	pending map[string]*pendingWork // keyed by activity instance id
	stopCh  chan struct{}
}

func (e *Engine) newActor(wf *instance.WorkflowInstance) *actor {
	a := &actor{
		id:      wf.ID,
		wf:      wf,
		mailbox: make(chan *turn, e.cfg.MailboxSize),
		pending: make(map[string]*pendingWork),
		stopCh:  make(chan struct{}),
	}

	e.mu.Lock()
	e.actors[wf.ID.String()] = a
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runActor(a)
	return a
}

func (e *Engine) runActor(a *actor) {
	defer e.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case t := <-a.mailbox:
			t.errc <- e.runTurn(a, t)
		}
	}
}

// runTurn executes one turn through the middleware chain. The turn runs
// under a background context: once accepted, an operation commits even if
// the submitting caller has gone away.
func (e *Engine) runTurn(a *actor, t *turn) error {
	h := e.mw(func(ctx context.Context, _ middleware.Operation) error {
		if err := t.fn(ctx, a); err != nil {
			return err
		}
		if t.mutating {
			return e.finishTurn(ctx, a)
		}
		return nil
	})
	return h(context.Background(), middleware.Operation{Name: t.name, InstanceID: a.id.String()})
}
