package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/store"
	"github.com/nightBaker/fleans-sub002/vars"
)

type createInstanceRequest struct {
	WorkflowKey string `json:"workflow_key,omitempty"`
	Version     int    `json:"version,omitempty"`
	Start       bool   `json:"start,omitempty"`
}

type createInstanceResponse struct {
	InstanceID string `json:"instance_id"`
}

type completeActivityRequest struct {
	Variables vars.Map `json:"variables,omitempty"`
}

type failActivityRequest struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) registerDefinition(w http.ResponseWriter, r *http.Request) {
	var def definition.ProcessDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode definition: %w", err))
		return
	}
	if def.ID.IsNil() {
		def.ID = id.NewDefinitionID()
	}
	if err := s.eng.RegisterDefinition(&def); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"id":  def.ID.String(),
		"key": def.Key,
	})
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	ctx := r.Context()
	instID, err := s.eng.CreateInstance(ctx)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if req.WorkflowKey != "" {
		if err := s.eng.SetWorkflow(ctx, instID, req.WorkflowKey, req.Version); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		if req.Start {
			if err := s.eng.StartWorkflow(ctx, instID); err != nil {
				s.writeError(w, statusFor(err), err)
				return
			}
		}
	}
	s.writeJSON(w, http.StatusCreated, createInstanceResponse{InstanceID: instID.String()})
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOpts{}
	switch r.URL.Query().Get("completed") {
	case "true":
		completed := true
		opts.Completed = &completed
	case "false":
		completed := false
		opts.Completed = &completed
	}

	snaps, err := s.store.ListSnapshots(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	instID, err := id.ParseInstanceID(mux.Vars(r)["instanceID"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.eng.Snapshot(r.Context(), instID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	instID, err := id.ParseInstanceID(mux.Vars(r)["instanceID"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.eng.StartWorkflow(r.Context(), instID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeActivity(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	instID, err := id.ParseInstanceID(v["instanceID"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req completeActivityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	if err := s.eng.CompleteActivity(r.Context(), instID, v["activityID"], req.Variables); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) failActivity(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	instID, err := id.ParseInstanceID(v["instanceID"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req failActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := s.eng.FailActivity(r.Context(), instID, v["activityID"], req.Code, req.Message); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
