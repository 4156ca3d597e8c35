// Package api exposes the tracker commands over a small local HTTP
// endpoint.
//
// Every command is a POST to /invoke/{command} with optional JSON arguments
// in the body. Responses share one envelope so callers can tell a queued
// write (retry later) from a store that needs a manual restore.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/projtrack/internal/project"
	"github.com/roach88/projtrack/internal/resilience"
	"github.com/roach88/projtrack/internal/store"
	"github.com/roach88/projtrack/internal/tracker"
)

// maxBodyBytes caps the size of command arguments.
const maxBodyBytes = 1 << 20

var invokeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "projtrack",
	Subsystem: "api",
	Name:      "invocations_total",
	Help:      "Commands invoked over HTTP by command and HTTP status.",
}, []string{"command", "status"})

// Invoker runs named commands. *tracker.Service satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// HealthFunc reports whether the store is usable.
type HealthFunc func() bool

// Handler serves the HTTP routes.
type Handler struct {
	invoker Invoker
	healthy HealthFunc
	logger  *slog.Logger
}

// NewHandler creates a handler. A nil health func always reports healthy.
func NewHandler(invoker Invoker, healthy HealthFunc, logger *slog.Logger) *Handler {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{invoker: invoker, healthy: healthy, logger: logger}
}

// Routes returns the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/invoke/{command}", h.Invoke)

	return r
}

// Envelope is the body of every /invoke response.
type Envelope struct {
	Success bool       `json:"success"`
	Result  any        `json:"result,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Message string `json:"message"`

	// Queued is set when the write was stored in the pending slot.
	Queued bool `json:"queued"`

	// CanRetry is set when retry-database-operation may complete the write.
	CanRetry bool `json:"canRetry"`

	// CanRestore is set when the store is damaged and a restore may help.
	CanRestore bool `json:"canRestore"`

	// ManualIntervention is set when automatic recovery gave up.
	ManualIntervention bool `json:"manualIntervention"`
}

// Health reports 200 when the store is open and 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.healthy() {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Invoke runs the command named in the path.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.write(w, command, http.StatusRequestEntityTooLarge, Envelope{Error: &ErrorBody{Message: err.Error()}})
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		h.write(w, command, http.StatusBadRequest, Envelope{Error: &ErrorBody{Message: "request body is not valid JSON"}})
		return
	}

	result, err := h.invoker.Invoke(r.Context(), command, body)
	if err != nil {
		h.logger.Warn("command failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		env := Envelope{Error: describe(err)}
		// A failed recovery still reports which actions were taken.
		if rr, ok := result.(resilience.RecoveryResult); ok {
			env.Result = rr
		}
		h.write(w, command, statusFor(err), env)
		return
	}
	h.write(w, command, http.StatusOK, Envelope{Success: true, Result: result})
}

func (h *Handler) write(w http.ResponseWriter, command string, status int, env Envelope) {
	invokeTotal.WithLabelValues(command, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("encoding response", slog.String("error", err.Error()))
	}
}

// describe maps an error onto the response flags.
func describe(err error) *ErrorBody {
	return &ErrorBody{
		Message:            err.Error(),
		Queued:             resilience.IsQueued(err),
		CanRetry:           resilience.IsQueued(err),
		CanRestore:         resilience.IsCorruption(err) || resilience.IsManualIntervention(err),
		ManualIntervention: resilience.IsManualIntervention(err),
	}
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	var doe *resilience.DatabaseOperationError
	switch {
	case errors.Is(err, tracker.ErrUnknownCommand),
		errors.Is(err, tracker.ErrProjectNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidArgs),
		errors.Is(err, tracker.ErrInvalidFilename),
		errors.Is(err, project.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidParams):
		return http.StatusBadRequest
	case resilience.IsManualIntervention(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &doe) && doe.Queued:
		return http.StatusAccepted
	case errors.As(err, &doe):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
