package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"

	"loadcheck/internal/bench"
	"loadcheck/internal/events"
	"loadcheck/internal/logger"
	"loadcheck/internal/metrics"
)

const tag = "api"

//go:embed static/*
var staticFiles embed.FS

// Server はダッシュボード用のAPIサーバー
type Server struct {
	addr     string
	base     bench.Config
	bus      *events.Bus
	exporter *metrics.Exporter
	router   chi.Router

	mu        sync.RWMutex
	engine    *bench.Engine
	cancel    context.CancelFunc
	running   bool
	report    *bench.Report
	lastErr   string
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
// base のゲートウェイ設定は全ての実行に引き継がれる
func NewServer(addr string, base bench.Config) *Server {
	s := &Server{
		addr:      addr,
		base:      base,
		bus:       events.NewBus(),
		exporter:  metrics.NewExporter(),
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/presets", s.handlePresets)
		r.Post("/runs", s.handleRunStart)
		r.Post("/runs/stop", s.handleRunStop)
		r.Get("/report", s.handleReport)
	})
	r.Handle("/metrics", s.exporter.Handler())
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(fmt.Sprintf("static files: %v", err))
	}
	r.Handle("/*", http.FileServer(http.FS(staticFS)))
	return r
}

// Handler はHTTPハンドラを返す（テスト用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bus はイベントバスを返す
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// バックグラウンドでイベントと状態を配信
	go s.relayEvents(ctx)
	go s.broadcastLoop(ctx)

	logger.Info(tag, "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		s.stopRun()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.bus.Close()
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running     bool   `json:"running"`
	RunID       string `json:"run_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Phase       string `json:"phase,omitempty"`
	Calls       uint64 `json:"calls"`
	Errors      uint64 `json:"errors"`
	Active      int    `json:"active_workers"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	RemainingMs int64  `json:"remaining_ms"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{Running: s.running, LastError: s.lastErr}
	if s.report != nil {
		resp.LastStatus = string(s.report.Status)
	}
	if s.engine == nil {
		return resp
	}

	p := s.engine.Progress()
	resp.RunID = p.RunID
	resp.Name = s.engine.Config().Name
	resp.Phase = p.Phase.String()
	resp.Calls = p.Calls
	resp.Errors = p.Errors
	resp.Active = p.Active
	resp.ElapsedMs = p.Elapsed.Milliseconds()
	resp.RemainingMs = p.Remaining.Milliseconds()
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Operation   string `json:"operation"`
	Concurrency int    `json:"concurrency"`
	Duration    string `json:"duration"`
	Chaos       bool   `json:"chaos"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	var presets []PresetInfo
	for _, name := range bench.ListPresets() {
		c, _ := bench.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: c.Description,
			Operation:   string(c.Workload.Op),
			Concurrency: c.Concurrency,
			Duration:    c.Duration.String(),
			Chaos:       c.Chaos.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, presets)
}

// RunRequest は実行開始リクエスト
type RunRequest struct {
	Preset      string `json:"preset"`
	Duration    string `json:"duration,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Expr        string `json:"expr,omitempty"`
	Chaos       *bool  `json:"chaos,omitempty"`
}

// config はリクエストから実行設定を組み立てる
func (s *Server) config(req RunRequest) (bench.Config, error) {
	config := s.base
	if req.Preset != "" {
		p, ok := bench.GetPreset(req.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", req.Preset)
		}
		// memory 以外のゲートウェイは起動時の設定を使う
		if s.base.Gateway.Kind != "" && s.base.Gateway.Kind != "memory" {
			p.Gateway = s.base.Gateway
		}
		config = p
	}

	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return config, fmt.Errorf("invalid duration: %w", err)
		}
		config.Duration = d
	}
	if req.Concurrency > 0 {
		config.Concurrency = req.Concurrency
	}
	if req.Expr != "" {
		config.Workload.Expr = req.Expr
	}
	if req.Chaos != nil {
		config.Chaos.Enabled = *req.Chaos
	}
	return config, config.Validate()
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	config, err := s.config(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "benchmark already running")
		return
	}

	engine := bench.New(config)
	engine.SetEventBus(s.bus)
	engine.SetExporter(s.exporter)

	ctx, cancel := context.WithCancel(context.Background())
	s.engine = engine
	s.cancel = cancel
	s.running = true
	s.lastErr = ""
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		report, err := engine.Run(ctx)

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		if err != nil {
			s.lastErr = err.Error()
		} else {
			s.report = report
		}
		s.mu.Unlock()

		if err != nil {
			logger.Error(tag, "Benchmark failed: %v", err)
			return
		}
		logger.Info(tag, "Benchmark completed: %s", report.Summary())
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "name": config.Name})
}

// stopRun は実行中のベンチマークを中断する。中断しても DRAINING と REPORT は行われる
func (s *Server) stopRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	if !s.stopRun() {
		writeError(w, http.StatusBadRequest, "no benchmark running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()

	if report == nil {
		writeError(w, http.StatusNotFound, "no report available")
		return
	}

	format := bench.Format(r.URL.Query().Get("format"))
	switch format {
	case "", bench.FormatJSON:
		writeJSON(w, http.StatusOK, report)
		return
	case bench.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	case bench.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	case bench.FormatMsgpack:
		w.Header().Set("Content-Type", "application/msgpack")
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}
	if err := report.Write(w, format); err != nil {
		logger.Error(tag, "Failed to write report: %v", err)
	}
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// relayEvents はイベントバスの内容をそのままWebSocketに流す
func (s *Server) relayEvents(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(e)
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := s.status()
			if !status.Running {
				continue
			}
			s.broadcast(map[string]any{
				"type":   "status",
				"status": status,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(tag, "Failed to encode JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug(tag, "%s %s %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}
