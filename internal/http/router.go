package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"recaptcha-audio-solver/internal/challenge"
)

// Solver is the application surface the router serves.
type Solver interface {
	Ready() bool
	SolveURL(ctx context.Context, url string) (challenge.Result, error)
}

// SolveRequest is the body of POST /v1/solve.
type SolveRequest struct {
	URL string `json:"url"`
}

// SolveResponse is returned when a solve finishes without error.
type SolveResponse struct {
	Solved    bool   `json:"solved"`
	SessionID string `json:"sessionId"`
	Attempts  int    `json:"attempts"`
	State     string `json:"state"`
}

// ErrorResponse is returned on failure.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	SessionID string `json:"sessionId,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(solver Solver, solveTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !solver.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/solve", solveHandler(solver, solveTimeout))
	})

	return r
}

func solveHandler(solver Solver, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: "bad_request"})
			return
		}
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "url must be an absolute http(s) URL", Kind: "bad_request"})
			return
		}
		if !solver.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "solver not ready", Kind: "unavailable"})
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		logger := log.With().
			Str("component", "http").
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("url", req.URL).
			Logger()

		res, err := solver.SolveURL(ctx, req.URL)
		if err != nil {
			kind := challenge.ErrorKind(err)
			logger.Warn().Err(err).Str("kind", kind).Str("sessionId", res.SessionID).Msg("Solve request failed")
			writeJSON(w, statusFor(kind), ErrorResponse{Error: err.Error(), Kind: kind, SessionID: res.SessionID})
			return
		}

		logger.Info().
			Str("sessionId", res.SessionID).
			Bool("solved", res.Solved).
			Int("attempts", res.Attempts).
			Msg("Solve request finished")
		writeJSON(w, http.StatusOK, SolveResponse{
			Solved:    res.Solved,
			SessionID: res.SessionID,
			Attempts:  res.Attempts,
			State:     res.State.String(),
		})
	}
}

func statusFor(kind string) int {
	switch kind {
	case "not_found", "verification_exhausted":
		return http.StatusUnprocessableEntity
	case "audio_not_found":
		return http.StatusServiceUnavailable
	case "canceled":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Failed to write response")
	}
}
