package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"atbridge/internal/logging"
)

// ConnObserver is told about connections and requests. metrics.Bridge
// implements it.
type ConnObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	Request(kind string, took time.Duration)
}

// Server is the IPC server that manages client connections.
type Server struct {
	cfg     ServerConfig
	handler Handler
	log     *logging.Logger

	mu        sync.RWMutex
	listener  net.Listener
	clients   map[string]*Client
	startedAt time.Time
	version   string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextEventID atomic.Uint32
	dropped     atomic.Uint64
}

// Client is a connected peer.
type Client struct {
	ID          string
	Name        string
	Version     string
	UID         int
	ConnectedAt time.Time

	server  *Server
	conn    net.Conn
	writeMu sync.Mutex

	subMu   sync.RWMutex
	events  map[EventType]bool
	outbox  chan *Event
	limiter *rateLimiter
}

func (c *Client) subscribed(t EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.events[t]
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	Permissions    os.FileMode
	MaxConnections int
	WriteTimeout   time.Duration
	// EventBuffer is the per-client queue of undelivered events. Events
	// for a client whose queue is full are dropped.
	EventBuffer int
	// RequestRate and RequestBurst bound requests per client. A negative
	// rate disables the limit.
	RequestRate  float64
	RequestBurst int
	Logger       *logging.Logger
	Observer     ConnObserver
}

// DefaultServerConfig returns defaults for socketPath.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "dev",
		Permissions:    0o600,
		MaxConnections: 16,
		WriteTimeout:   10 * time.Second,
		EventBuffer:    256,
		RequestRate:    100,
		RequestBurst:   50,
	}
}

// NewServer creates a server; Start begins listening.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	def := DefaultServerConfig(cfg.SocketPath)
	if cfg.Permissions == 0 {
		cfg.Permissions = def.Permissions
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.RequestRate == 0 {
		cfg.RequestRate = def.RequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = def.RequestBurst
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log.WithComponent("ipc"),
		clients: make(map[string]*Client),
		version: cfg.Version,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start creates the socket and begins accepting connections.
func (s *Server) Start() error {
	if s.running.Load() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("socket %s is in use by another daemon", s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.Permissions); err != nil {
		ln.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.log.Info("control socket listening", "path", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and every connection, waits briefly for
// connection goroutines and removes the socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("control connections did not close in time")
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Broadcast queues ev for every client subscribed to its type. It never
// blocks.
func (s *Server) Broadcast(ev *Event) {
	if ev == nil || !s.running.Load() {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if !c.subscribed(ev.Type) {
			continue
		}
		select {
		case c.outbox <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		uid, err := checkPeer(conn)
		if err != nil {
			s.log.Warn("rejected control connection", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.log.Warn("control connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}
		c := &Client{
			ID:          uuid.NewString(),
			UID:         uid,
			ConnectedAt: time.Now(),
			server:      s,
			conn:        conn,
			events:      make(map[EventType]bool),
			outbox:      make(chan *Event, s.cfg.EventBuffer),
		}
		if s.cfg.RequestRate > 0 {
			c.limiter = newRateLimiter(s.cfg.RequestRate, s.cfg.RequestBurst)
		}
		s.clients[c.ID] = c
		s.mu.Unlock()

		if s.cfg.Observer != nil {
			s.cfg.Observer.ConnectionOpened()
		}
		s.wg.Add(2)
		go s.handleConnection(c)
		go s.deliverEvents(c)
	}
}

func (s *Server) handleConnection(c *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.ID)
		s.mu.Unlock()
		close(c.outbox)
		c.conn.Close()
		if s.cfg.Observer != nil {
			s.cfg.Observer.ConnectionClosed()
		}
		s.log.Debug("control client disconnected", "client", c.ID)
	}()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.log.Debug("control read failed", "client", c.ID, "error", err)
			}
			return
		}

		start := time.Now()
		resp, err := s.processMessage(c, msg)
		if err != nil {
			resp = NewErrorMessage(msg.Header.RequestID, CodeInternal, err.Error())
		}
		if s.cfg.Observer != nil {
			s.cfg.Observer.Request(msg.Header.Type.String(), time.Since(start))
		}
		if resp != nil {
			if err := s.send(c, resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(c *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	if msg.Header.Type != MsgPong && !c.limiter.allow() {
		return NewErrorMessage(id, CodeRateLimited, "too many requests"), nil
	}
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		var req HandshakeRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, CodeInvalidRequest, "invalid handshake"), nil
		}
		c.Name, c.Version = req.ClientName, req.ClientVersion
		s.log.Debug("control client connected", "client", c.ID, "name", c.Name, "uid", c.UID)
		return NewResponse(MsgHandshakeAck, id, HandshakeResponse{
			ServerVersion:   s.version,
			ProtocolVersion: ProtocolVersion,
			ClientID:        c.ID,
		})
	case MsgSubscribe:
		var req SubscribeRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, CodeInvalidRequest, "invalid subscribe request: "+err.Error()), nil
		}
		events := req.Events
		if len(events) == 0 {
			events = AllEvents()
		}
		for _, t := range events {
			if !t.Valid() {
				return NewErrorMessage(id, CodeInvalidRequest, "unknown event type "+t.String()), nil
			}
		}
		c.subMu.Lock()
		for _, t := range events {
			c.events[t] = true
		}
		c.subMu.Unlock()
		return NewResponse(MsgSubscribeResp, id, SubscribeResponse{SubscriptionID: c.ID, Events: events})
	case MsgUnsubscribe:
		c.subMu.Lock()
		c.events = make(map[EventType]bool)
		c.subMu.Unlock()
		return NewMessage(MsgUnsubscribeResp, id, nil), nil
	}

	if s.handler == nil {
		return NewErrorMessage(id, CodeUnsupported, "no handler"), nil
	}
	ctx := logging.ContextWithRequestID(s.ctx, fmt.Sprintf("%s/%d", c.ID, id))
	return s.handler.HandleMessage(ctx, c, msg)
}

func (s *Server) deliverEvents(c *Client) {
	defer s.wg.Done()
	for ev := range c.outbox {
		payload, err := Encode(ev)
		if err != nil {
			s.log.Debug("event encoding failed", "type", ev.Type, "error", err)
			continue
		}
		msg := NewMessage(MsgEvent, s.nextEventID.Add(1), payload)
		msg.Header.Flags |= FlagEvent
		if err := s.send(c, msg); err != nil {
			c.conn.Close()
			for range c.outbox {
			}
			return
		}
	}
}

func (s *Server) send(c *Client, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(c.conn)
}

// CleanupSocket removes a stale socket file. A non-socket at path is left
// alone and reported.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether a daemon already serves path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
