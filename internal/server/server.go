// Package server exposes the batch runner over HTTP: start a batch, poll its
// status, fetch results, and stream step events over a websocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"funnel-agent/internal/config"
	"funnel-agent/internal/driver"
	"funnel-agent/internal/evidence"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is the websocket envelope.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type runRequest struct {
	URLs []string `json:"urls"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	runner     *driver.Runner
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu        sync.RWMutex
	running   bool
	current   driver.StepEvent
	aggregate *evidence.Aggregate
	summaries []*evidence.Summary

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
}

func New(cfg *config.Config, log *zap.Logger, runner *driver.Runner) *Server {
	s := &Server{
		cfg:    cfg,
		log:    log.Named("server"),
		runner: runner,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
	runner.Observer = s
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/run", s.handleRun).Methods("POST")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/results", s.handleResults).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// OnStep implements driver.Observer: every classified step is pushed to all
// connected websocket clients.
func (s *Server) OnStep(ev driver.StepEvent) {
	s.mu.Lock()
	s.current = ev
	s.mu.Unlock()
	s.broadcast(Message{Type: "step", Payload: ev})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	urls := req.URLs
	if len(urls) == 0 {
		urls = s.cfg.URLs
	}
	if len(urls) == 0 {
		s.sendError(w, "no urls in request or configuration", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.sendError(w, "a batch is already running", http.StatusConflict)
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.runBatch(urls)

	s.sendSuccess(w, "batch started", map[string]int{"urls": len(urls)})
}

func (s *Server) runBatch(urls []string) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	agg, summaries, err := s.runner.RunAll(context.Background(), urls)
	if err != nil {
		s.log.Error("batch failed", zap.Error(err))
	}

	s.mu.Lock()
	s.aggregate = agg
	s.summaries = summaries
	s.mu.Unlock()

	s.broadcast(Message{Type: "batch_finished", Payload: agg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.sendSuccess(w, "status", map[string]interface{}{
		"running": s.running,
		"current": s.current,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aggregate == nil {
		s.sendError(w, "no finished batch yet", http.StatusNotFound)
		return
	}
	s.sendSuccess(w, "results", map[string]interface{}{
		"aggregate": s.aggregate,
		"summaries": s.summaries,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	s.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	// Clients only listen; reads just detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(msg Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		if err := client.WriteJSON(msg); err != nil {
			s.log.Debug("websocket write failed", zap.Error(err))
		}
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, apiResponse{Success: false, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response failed", zap.Error(err))
	}
}
