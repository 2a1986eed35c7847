package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot/internal/logging"
)

// Status is the monitor snapshot exposed to the panel.
type Status struct {
	Mode                string   `json:"mode"`
	Keywords            []string `json:"keywords"`
	RecognizerState     string   `json:"recognizer_state"`
	BufferRunes         int      `json:"buffer_runes"`
	Threshold           float64  `json:"threshold"`
	CooldownRemainingMs int64    `json:"cooldown_remaining_ms"`
	AlertsAccepted      uint64   `json:"alerts_accepted"`
}

// Controller is the slice of the pipeline the panel can observe and adjust.
type Controller interface {
	Status() Status
	SetKeywords(ctx context.Context, keywords []string) error
	SetThreshold(threshold float64) error
}

// Server hosts the panel API, the event stream and the metrics endpoint.
type Server struct {
	ctrl Controller
	hub  *Hub
	srv  *http.Server
}

func NewServer(addr string, ctrl Controller, hub *Hub) *Server {
	s := &Server{ctrl: ctrl, hub: hub}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/status", s.handleStatus)
	r.Put("/api/keywords", s.handleKeywords)
	r.Put("/api/threshold", s.handleThreshold)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", s.hub.Handler())
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. Blocks; run it in a goroutine.
func (s *Server) Start() error {
	logging.Infow("panel listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "keywords must not be empty")
		return
	}
	if err := s.ctrl.SetKeywords(r.Context(), req.Keywords); err != nil {
		logging.Errorw("keyword update failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.hub.Broadcast("keywords", req.Keywords)
	writeJSON(w, http.StatusOK, map[string]interface{}{"keywords": req.Keywords})
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be within [0, 1]")
		return
	}
	if err := s.ctrl.SetThreshold(req.Threshold); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": req.Threshold})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
