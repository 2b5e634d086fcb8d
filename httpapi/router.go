// Package httpapi exposes a processor to operators over HTTP: progress
// polling, the one-time completion result and an on-demand trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BranchIntl/couponqueue/core"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/progress"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor is what the API needs from a batch processor
type Processor interface {
	Identifier() string
	Run(ctx context.Context) (core.Outcome, error)
	Progress(ctx context.Context) (progress.Progress, error)
	Status(ctx context.Context) (core.Status, error)
	ConsumeResult(ctx context.Context) (*item.RunResult, error)
	Health(ctx context.Context) core.HealthStatus
}

type handler struct {
	processor Processor
}

// NewRouter registers the API routes. /metrics is served only when
// gatherer is not nil.
func NewRouter(p Processor, gatherer prometheus.Gatherer) *mux.Router {
	h := &handler{processor: p}

	r := mux.NewRouter()
	r.HandleFunc("/progress", h.progress).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/result", h.result).Methods(http.MethodGet)
	r.HandleFunc("/run", h.run).Methods(http.MethodPost)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.processor.Progress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type statusResponse struct {
	core.Status
	Verb    string `json:"verb,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s, err := h.processor.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{Status: s, Message: s.Message()}
	if s.Running {
		resp.Verb = s.Action.Progressive()
	}
	writeJSON(w, http.StatusOK, resp)
}

type resultResponse struct {
	item.RunResult
	Title   string `json:"title"`
	Verb    string `json:"verb"`
	Message string `json:"message"`
}

func (h *handler) result(w http.ResponseWriter, r *http.Request) {
	res, err := h.processor.ConsumeResult(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{
		RunResult: *res,
		Title:     res.Action.Title(),
		Verb:      res.Action.Verb(),
		Message:   res.Message(),
	})
}

func (h *handler) run(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.processor.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if outcome == core.OutcomeLocked {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"identifier": h.processor.Identifier(),
		"outcome":    outcome.String(),
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	hs := h.processor.Health(r.Context())

	body := map[string]any{
		"healthy":    hs.Healthy,
		"running":    hs.Running,
		"queued":     hs.Queued,
		"last_check": hs.LastCheck,
	}
	status := http.StatusOK
	if !hs.Healthy {
		status = http.StatusServiceUnavailable
		if hs.StoreHealth != nil {
			body["error"] = hs.StoreHealth.Error()
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	slog.Error("Request failed", "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
