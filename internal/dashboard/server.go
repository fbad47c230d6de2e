// Package dashboard serves the operator HTTP API: status, logs, manual
// speech and a WebSocket event feed.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/bus"
	"github.com/kaede-live/kaede/internal/chat"
	"github.com/kaede-live/kaede/internal/logging"
	"github.com/kaede-live/kaede/internal/pipeline"
)

// Config holds the dashboard listen address.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DefaultConfig binds to localhost only.
func DefaultConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 8080}
}

// Server exposes the pipeline to operators over HTTP.
type Server struct {
	config   *Config
	logger   zerolog.Logger
	pipeline *pipeline.Pipeline
	queue    *chat.CommentQueue
	logs     *logging.Logger
	events   *bus.EventBus

	httpServer *http.Server
	upgrader   websocket.Upgrader
	started    time.Time

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// New creates a dashboard server. The logs parameter may be nil; the log
// history endpoint then returns an empty list.
func New(logger zerolog.Logger, config *Config, p *pipeline.Pipeline, queue *chat.CommentQueue, logs *logging.Logger, events *bus.EventBus) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:   config,
		logger:   logger.With().Str("component", "dashboard").Logger(),
		pipeline: p,
		queue:    queue,
		logs:     logs,
		events:   events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)
	router.HandleFunc("/api/speak", s.handleSpeak).Methods(http.MethodPost)
	router.HandleFunc("/api/respond", s.handleRespond).Methods(http.MethodPost)
	router.HandleFunc("/api/ngwords", s.handleNGWords).Methods(http.MethodPut)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if events != nil {
		events.SubscribeAll(s.broadcastEvent)
	}
	if logs != nil {
		logs.SetOnLog(s.broadcastLog)
	}
	return s
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled. ListenAndServe runs in the calling
// goroutine; shutdown happens when the context ends.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
		s.closeConns()
	}()

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Dashboard listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
}

type statusResponse struct {
	State         string `json:"state"`
	QueueDepth    int    `json:"queue_depth"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:      string(s.pipeline.State()),
		QueueDepth: s.queue.Len(),
	}
	if !s.started.IsZero() {
		resp.UptimeSeconds = int64(time.Since(s.started).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	entries := []logging.Entry{}
	if s.logs != nil {
		entries = s.logs.History(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.pipeline.Speak(r.Context(), req.Text); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type respondRequest struct {
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.UserName == "" {
		req.UserName = "operator"
	}
	if err := s.pipeline.RespondTo(r.Context(), req.UserName, req.Text); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type ngWordsRequest struct {
	Words []string `json:"words"`
}

func (s *Server) handleNGWords(w http.ResponseWriter, r *http.Request) {
	var req ngWordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.queue.SetNGWords(req.Words)
	s.logger.Info().Int("count", len(req.Words)).Msg("NG words updated")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(req.Words)})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	// Reads are discarded; the feed is one way. The read loop exists to
	// notice closed connections.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcastEvent fans a bus event out to every connected dashboard client.
func (s *Server) broadcastEvent(e bus.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.broadcast(data)
}

// wsLogMessage wraps a log entry for the live feed, distinguishable from
// bus events by its type field.
type wsLogMessage struct {
	Type  string        `json:"type"`
	Entry logging.Entry `json:"entry"`
}

// broadcastLog streams a captured log line to every connected client.
func (s *Server) broadcastLog(e logging.Entry) {
	data, err := json.Marshal(wsLogMessage{Type: "log.entry", Entry: e})
	if err != nil {
		return
	}
	s.broadcast(data)
}

func (s *Server) broadcast(data []byte) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
