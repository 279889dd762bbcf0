package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nightBaker/fleans-sub002/api"
	"github.com/nightBaker/fleans-sub002/engine"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/store/memory"
)

const chainDefinitionJSON = `{
	"key": "chain",
	"version": 1,
	"activities": [
		{"id": "start", "kind": "start_event"},
		{"id": "task", "kind": "task"},
		{"id": "end", "kind": "end_event"}
	],
	"flows": [
		{"id": "f1", "source_id": "start", "target_id": "task"},
		{"id": "f2", "source_id": "task", "target_id": "end"}
	]
}`

func newServer(t *testing.T) *api.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	e := engine.New(engine.WithStore(st), engine.WithLogger(logger))
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return api.NewServer(e, st, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	h := s.Handler()

	if w := doJSON(t, h, http.MethodPost, "/v1/definitions", chainDefinitionJSON); w.Code != http.StatusCreated {
		t.Fatalf("register definition: %d %s", w.Code, w.Body)
	}

	w := doJSON(t, h, http.MethodPost, "/v1/instances", `{"workflow_key":"chain","start":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create instance: %d %s", w.Code, w.Body)
	}
	var created struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	if w := doJSON(t, h, http.MethodPost,
		"/v1/instances/"+created.InstanceID+"/activities/task/complete",
		`{"variables":{"ok":true}}`); w.Code != http.StatusNoContent {
		t.Fatalf("complete activity: %d %s", w.Code, w.Body)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/instances/"+created.InstanceID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get instance: %d %s", w.Code, w.Body)
	}
	var snap instance.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.IsCompleted {
		t.Fatalf("instance not completed: %+v", snap)
	}
}

func TestInvalidDefinitionRejected(t *testing.T) {
	s := newServer(t)
	bad := `{"key":"bad","version":1,"activities":[{"id":"task","kind":"task"}],"flows":[]}`
	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/definitions", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestUnknownInstanceIs404(t *testing.T) {
	s := newServer(t)
	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/instances/wfi_01h455vb4pex5vsknk084sn02q", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestDoubleStartIsConflict(t *testing.T) {
	s := newServer(t)
	h := s.Handler()

	if w := doJSON(t, h, http.MethodPost, "/v1/definitions", chainDefinitionJSON); w.Code != http.StatusCreated {
		t.Fatalf("register definition: %d %s", w.Code, w.Body)
	}
	w := doJSON(t, h, http.MethodPost, "/v1/instances", `{"workflow_key":"chain","start":true}`)
	if w.Code != http.StatusCreated {
		t.Fatal(w.Code)
	}
	var created struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/instances/"+created.InstanceID+"/start", ""); w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
}

func TestListInstances(t *testing.T) {
	s := newServer(t)
	h := s.Handler()

	if w := doJSON(t, h, http.MethodPost, "/v1/definitions", chainDefinitionJSON); w.Code != http.StatusCreated {
		t.Fatal(w.Code)
	}
	for range 2 {
		if w := doJSON(t, h, http.MethodPost, "/v1/instances", `{"workflow_key":"chain"}`); w.Code != http.StatusCreated {
			t.Fatal(w.Code)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/v1/instances", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}
	var snaps []instance.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
}
