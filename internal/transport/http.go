package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPTransportConfig holds HTTP transport settings. SocketPath, when set,
// takes precedence over Address and listens on a Unix domain socket.
// WriteTimeout defaults to 0 because SSE streams are long-lived.
type HTTPTransportConfig struct {
	Address           string
	SocketPath        string
	CORSOrigin        string
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RateLimit         float64 // requests per second, 0 disables
}

// DefaultHTTPConfig returns the defaults used when no config is supplied.
func DefaultHTTPConfig() *HTTPTransportConfig {
	return &HTTPTransportConfig{
		Address:           ":8080",
		CORSOrigin:        "*",
		HeartbeatInterval: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}

// HTTPTransport serves JSON-RPC over HTTP POST /message, streams responses
// to SSE subscribers on GET /events, and exposes /health and /metrics.
type HTTPTransport struct {
	config     *HTTPTransportConfig
	server     *http.Server
	handler    Handler
	clients    *clientRegistry
	metrics    *MetricsRegistry
	logger     *slog.Logger
	shutdownCh chan struct{}
	eventID    atomic.Uint64
	closed     atomic.Bool
}

// sseEvent is one Server-Sent Event.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

// sseClient is one connected /events subscriber.
type sseClient struct {
	responseCh chan *sseEvent
	id         string
}

// clientRegistry tracks SSE subscribers and a replay buffer for
// Last-Event-ID reconnection.
type clientRegistry struct {
	clients map[string]*sseClient
	replay  []*sseEvent
	maxSize int
	mu      sync.RWMutex
	nextID  atomic.Uint64
}

func newClientRegistry(replaySize int) *clientRegistry {
	return &clientRegistry{
		clients: make(map[string]*sseClient),
		replay:  make([]*sseEvent, 0, replaySize),
		maxSize: replaySize,
	}
}

func (r *clientRegistry) add() *sseClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	client := &sseClient{
		id:         fmt.Sprintf("client-%d", r.nextID.Add(1)),
		responseCh: make(chan *sseEvent, 100),
	}
	r.clients[client.id] = client
	return client
}

func (r *clientRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[id]; ok {
		close(client.responseCh)
		delete(r.clients, id)
	}
}

func (r *clientRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// since returns the replayed tail after the given event ID, or nil if the
// ID is unknown or empty.
func (r *clientRegistry) since(lastEventID string) []*sseEvent {
	if lastEventID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, e := range r.replay {
		if e.ID == lastEventID {
			tail := make([]*sseEvent, len(r.replay)-i-1)
			copy(tail, r.replay[i+1:])
			return tail
		}
	}
	return nil
}

func (r *clientRegistry) broadcast(event *sseEvent, logger *slog.Logger) {
	r.mu.Lock()
	if len(r.replay) >= r.maxSize {
		r.replay = r.replay[1:]
	}
	r.replay = append(r.replay, event)
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.clients {
		select {
		case client.responseCh <- event:
		default:
			// Slow subscriber; it can recover via Last-Event-ID replay.
			logger.Warn("dropping SSE event", "event", event.ID, "client", client.id)
		}
	}
}

// NewHTTPTransport builds the transport. metrics may be nil to disable the
// /metrics endpoint and instrumentation.
func NewHTTPTransport(config *HTTPTransportConfig, metrics *MetricsRegistry, logger *slog.Logger) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &HTTPTransport{
		config:     config,
		clients:    newClientRegistry(1000),
		metrics:    metrics,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message", t.handleMessage)
	mux.HandleFunc("/events", t.handleSSE)
	mux.HandleFunc("/health", t.handleHealth)
	if metrics != nil {
		mux.HandleFunc("/metrics", t.handleMetrics)
	}

	var handler http.Handler = t.corsMiddleware(mux)
	handler = RateLimitMiddleware(NewRateLimiter(config.RateLimit), handler)

	t.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return t
}

func (t *HTTPTransport) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", t.config.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if t.handler == nil {
		http.Error(w, "Handler not set", http.StatusInternalServerError)
		return
	}

	response, err := t.handler(&msg)
	if err != nil {
		response = ErrorResponse(msg.ID, ErrCodeInternalError, err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		t.logger.Error("encoding response", "error", err)
	}

	// Mirror the response onto the SSE stream for subscribers that follow
	// the session passively.
	if response != nil {
		data, _ := json.Marshal(response)
		t.broadcastEvent(string(data))
	}
}

func (t *HTTPTransport) broadcastEvent(data string) {
	t.clients.broadcast(&sseEvent{
		ID:    fmt.Sprintf("%d", t.eventID.Add(1)),
		Event: "message",
		Data:  data,
	}, t.logger)
	if t.metrics != nil {
		t.metrics.RecordSSEEvent()
	}
}

func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := t.clients.add()
	defer func() {
		t.clients.remove(client.id)
		if t.metrics != nil {
			t.metrics.SetSSEConnections(t.clients.count())
		}
	}()
	if t.metrics != nil {
		t.metrics.SetSSEConnections(t.clients.count())
	}

	t.logger.Debug("SSE client connected", "client", client.id)

	// Replay anything missed since the client's last seen event.
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, event := range t.clients.since(lastEventID) {
			if err := writeSSEEvent(w, event); err != nil {
				t.logger.Debug("replay write failed", "client", client.id, "error", err)
				return
			}
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(t.config.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("SSE client disconnected", "client", client.id)
			return
		case <-t.shutdownCh:
			fmt.Fprintf(w, "event: complete\ndata: server shutdown\n\n")
			flusher.Flush()
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-client.responseCh:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				t.logger.Debug("SSE write failed", "client", client.id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event, prefixing every data line per the SSE
// spec so multiline payloads survive.
func writeSSEEvent(w io.Writer, event *sseEvent) error {
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\n", event.ID, event.Event); err != nil {
		return err
	}
	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"clients":     t.clients.count(),
		"server_time": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.logger.Error("encoding health response", "error", err)
	}
}

func (t *HTTPTransport) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := t.metrics.WritePrometheus(w); err != nil {
		t.logger.Error("writing metrics", "error", err)
	}
}

// Serve listens and blocks until Close or a listener error.
func (t *HTTPTransport) Serve(handler Handler) error {
	t.handler = handler

	var listener net.Listener
	var err error

	if t.config.SocketPath != "" {
		// Remove a stale socket left by a previous run.
		if err := os.Remove(t.config.SocketPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("removing stale socket", "path", t.config.SocketPath, "error", err)
		}
		listener, err = net.Listen("unix", t.config.SocketPath)
		if err != nil {
			return fmt.Errorf("listen on socket %s: %w", t.config.SocketPath, err)
		}
		t.logger.Info("HTTP/SSE transport listening", "socket", t.config.SocketPath)
	} else {
		listener, err = net.Listen("tcp", t.config.Address)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", t.config.Address, err)
		}
		t.logger.Info("HTTP/SSE transport listening", "address", listener.Addr().String())
	}

	if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ReadMessage is unsupported; HTTP requests are delivered through the
// handler passed to Serve.
func (t *HTTPTransport) ReadMessage() (*Message, error) {
	return nil, errors.New("ReadMessage is not supported by HTTPTransport: use Serve(handler)")
}

// WriteMessage broadcasts a message to all connected SSE clients.
func (t *HTTPTransport) WriteMessage(msg *Message) error {
	if t.closed.Load() {
		return errors.New("transport is closed")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	t.broadcastEvent(string(data))
	return nil
}

// Close shuts the server down and removes any Unix socket file. Idempotent.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	if t.config.SocketPath != "" {
		if err := os.Remove(t.config.SocketPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("removing socket file", "path", t.config.SocketPath, "error", err)
		}
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (t *HTTPTransport) IsClosed() bool {
	return t.closed.Load()
}
