package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"homeserverd/internal/eventbus"
	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

// jobView is a trigger plus its live-timer state.
type jobView struct {
	storage.Trigger
	IsRunning bool `json:"isRunning"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.ListTriggers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]jobView, 0, len(triggers))
	for _, t := range triggers {
		views = append(views, jobView{Trigger: t, IsRunning: s.sched.HasTimer(t.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

type createJobRequest struct {
	Name    string          `json:"name"`
	Cron    string          `json:"cron"`
	Type    storage.JobType `json:"type"`
	Config  map[string]any  `json:"config"`
	Enabled *bool           `json:"enabled"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	enabled := req.Enabled == nil || *req.Enabled
	created, err := s.store.CreateTrigger(r.Context(), storage.Trigger{
		Name:     req.Name,
		Schedule: req.Cron,
		Type:     req.Type,
		Config:   req.Config,
		Enabled:  enabled,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.sched.Add(created); err != nil {
		// The row is valid, so this should not happen; surface it anyway.
		s.log.Error("register timer failed", logx.Int64("id", created.ID), logx.Err(err))
	}
	s.bus.Publish(eventbus.Event{Type: "scheduler-add", Data: map[string]any{
		"name": created.Name, "cron": created.Schedule, "type": created.Type,
	}})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": created})
}

type updateJobRequest struct {
	Name    *string        `json:"name"`
	Cron    *string        `json:"cron"`
	Config  map[string]any `json:"config"`
	Enabled *bool          `json:"enabled"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == nil && req.Cron == nil && req.Config == nil && req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("nothing to update"))
		return
	}

	updated, err := s.store.UpdateTrigger(r.Context(), id, storage.TriggerUpdate{
		Name:     req.Name,
		Schedule: req.Cron,
		Config:   req.Config,
		Enabled:  req.Enabled,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Re-register the timer against the stored row. Add handles the
	// disabled case by just dropping the old timer.
	if err := s.sched.Add(updated); err != nil {
		s.log.Error("re-register timer failed", logx.Int64("id", id), logx.Err(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": updated})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Timer first, row second: a firing between the two operations can still
	// read the row, but no timer may outlive the deleted trigger.
	s.sched.Remove(id)
	if err := s.store.DeleteTrigger(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.sched.RunNow(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": rec})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	var jobID int64
	if v := r.URL.Query().Get("jobId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("jobId must be an integer"))
			return
		}
		jobID = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	logs, err := s.store.ListExecutions(r.Context(), jobID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if logs == nil {
		logs = []storage.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// preset is a canned trigger definition offered by the dashboard.
type preset struct {
	Name string          `json:"name"`
	Cron string          `json:"cron"`
	Type storage.JobType `json:"type"`
	Desc string          `json:"desc"`
}

var presets = []preset{
	{Name: "Daily backup", Cron: "0 2 * * *", Type: storage.JobBackup, Desc: "every day at 02:00"},
	{Name: "Drive sync (30 min)", Cron: "*/30 * * * *", Type: storage.JobDriveSync, Desc: "every 30 minutes"},
	{Name: "Daily AI report", Cron: "0 9 * * *", Type: storage.JobAIReport, Desc: "every day at 09:00"},
	{Name: "Health check (5 min)", Cron: "*/5 * * * *", Type: storage.JobHealthCheck, Desc: "every 5 minutes"},
	{Name: "Temp file cleanup", Cron: "0 3 * * 0", Type: storage.JobCleanup, Desc: "Sundays at 03:00"},
	{Name: "Email check (10 min)", Cron: "*/10 * * * *", Type: storage.JobEmailCheck, Desc: "every 10 minutes"},
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	notes, err := s.store.ListNotifications(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if notes == nil {
		notes = []storage.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}
