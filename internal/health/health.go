// Package health serves the liveness and debug HTTP endpoints.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/rickgao/memestream/internal/mux"
	"github.com/rickgao/memestream/internal/recorder"
	"github.com/rickgao/memestream/internal/topic"
	"github.com/rickgao/memestream/internal/version"
)

// Status values reported by /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger checks database reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stream is the read-only view of a multiplexer. *mux.Multiplexer satisfies it.
type Stream interface {
	Stats() mux.Stats
	ActiveTopics() []topic.Topic
}

// Deps are the components inspected by the handlers. DB and Recorder may be
// nil when recording is disabled.
type Deps struct {
	DB       Pinger
	Streams  []Stream
	Recorder func() recorder.Metrics
}

type streamHealth struct {
	State      string `json:"state"`
	Failed     bool   `json:"failed,omitempty"`
	Topics     int    `json:"topics"`
	Reconnects int64  `json:"reconnects"`
	LastError  string `json:"last_error,omitempty"`
}

type healthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Uptime     string         `json:"uptime"`
	Components map[string]any `json:"components"`
}

type streamDebug struct {
	Name             string   `json:"name"`
	Codec            string   `json:"codec"`
	State            string   `json:"state"`
	Closed           bool     `json:"closed"`
	Failed           bool     `json:"failed"`
	Topics           []string `json:"topics"`
	Callbacks        int      `json:"callbacks"`
	Connects         int64    `json:"connects"`
	Reconnects       int64    `json:"reconnects"`
	Attempt          int      `json:"attempt"`
	FramesSent       int64    `json:"frames_sent"`
	FramesDropped    int64    `json:"frames_dropped"`
	FramesReceived   int64    `json:"frames_received"`
	FramesDispatched int64    `json:"frames_dispatched"`
	FramesUnrouted   int64    `json:"frames_unrouted"`
	DecodeErrors     int64    `json:"decode_errors"`
	CallbackPanics   int64    `json:"callback_panics"`
}

// NewRouter creates the chi router for /health and /debug/streams.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     StatusHealthy,
			Version:    version.Version,
			Uptime:     time.Since(started).Round(time.Second).String(),
			Components: make(map[string]any),
		}

		// Check database
		if deps.DB == nil {
			health.Components["timescaledb"] = "disabled"
		} else if err := deps.DB.Ping(ctx); err != nil {
			logger.Warn("health check database ping failed", "error", err)
			health.Status = StatusUnhealthy
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}

		// Check streams
		streams := make(map[string]streamHealth, len(deps.Streams))
		for _, s := range deps.Streams {
			st := s.Stats()
			sh := streamHealth{
				State:      st.Connection.State.String(),
				Failed:     st.Failed,
				Topics:     st.ActiveTopics,
				Reconnects: st.Connection.Reconnects,
			}
			if st.Connection.LastError != nil {
				sh.LastError = st.Connection.LastError.Error()
			}
			if st.Failed && health.Status == StatusHealthy {
				health.Status = StatusDegraded
			}
			streams[st.Name] = sh
		}
		health.Components["streams"] = streams

		if deps.Recorder != nil {
			health.Components["recorder"] = deps.Recorder()
		}

		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})

	r.Get("/debug/streams", func(w http.ResponseWriter, req *http.Request) {
		out := make([]streamDebug, 0, len(deps.Streams))
		for _, s := range deps.Streams {
			out = append(out, debugView(s))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(out),
			"streams": out,
		})
	})

	return r
}

func debugView(s Stream) streamDebug {
	st := s.Stats()
	topics := s.ActiveTopics()
	keys := make([]string, 0, len(topics))
	for _, t := range topics {
		keys = append(keys, string(t.Key()))
	}
	sort.Strings(keys)

	return streamDebug{
		Name:             st.Name,
		Codec:            st.Codec,
		State:            st.Connection.State.String(),
		Closed:           st.Closed,
		Failed:           st.Failed,
		Topics:           keys,
		Callbacks:        st.Callbacks,
		Connects:         st.Connection.Connects,
		Reconnects:       st.Connection.Reconnects,
		Attempt:          st.Connection.Attempt,
		FramesSent:       st.Connection.FramesSent,
		FramesDropped:    st.Connection.FramesDropped,
		FramesReceived:   st.Connection.FramesReceived,
		FramesDispatched: st.FramesDispatched,
		FramesUnrouted:   st.FramesUnrouted,
		DecodeErrors:     st.DecodeErrors,
		CallbackPanics:   st.CallbackPanics,
	}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
