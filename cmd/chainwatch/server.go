package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/model"
	"github.com/rickgao/chainwatch/internal/supervisor"
	"github.com/rickgao/chainwatch/internal/version"
)

// Controller is the supervisor surface exposed over HTTP.
type Controller interface {
	Start(ctx context.Context, network model.NetworkID) error
	Stop(ctx context.Context) error
	Status() supervisor.Status
}

// FocusSetter receives focus changes from the host.
type FocusSetter interface {
	SetFocused(focused bool)
}

// Pinger checks database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// newHandler creates the HTTP handler for health, control, and metrics.
// db may be nil when persistence is disabled.
func newHandler(ctl Controller, focus FocusSetter, db Pinger, gatherer prometheus.Gatherer, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Check database
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		// Check connection
		st := ctl.Status()
		health.Components["connection"] = map[string]any{
			"network":     st.Network,
			"active":      st.Active,
			"handle_kind": st.HandleKind,
			"ready_state": st.ReadyState,
		}
		if st.Active && st.HandleID == "" && health.Status == "healthy" {
			health.Status = "degraded"
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})

	mux.HandleFunc("GET /debug/connection", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	mux.HandleFunc("POST /focus", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Focused *bool `json:"focused"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Focused == nil {
			writeError(w, http.StatusBadRequest, errors.New(`body must be {"focused": true|false}`))
			return
		}
		logger.Info("focus changed", "focused", *req.Focused)
		focus.SetFocused(*req.Focused)
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	mux.HandleFunc("POST /network", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Network string `json:"network"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		if err := ctl.Start(ctx, model.NetworkID(req.Network)); err != nil {
			logger.Warn("network start failed", "network", req.Network, "error", err)
			writeError(w, startStatusCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	mux.HandleFunc("DELETE /network", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := ctl.Stop(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func startStatusCode(err error) int {
	var cfgErr *connection.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
