package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/health"
)

var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures an IPCClient.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// EventBuffer sizes the Events channel; events arriving while it is
	// full are dropped.
	EventBuffer int
}

// DefaultClientConfig returns defaults for socketPath.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "atbridgectl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		EventBuffer:    256,
	}
}

// IPCClient talks to atbridged. It is safe for concurrent use.
type IPCClient struct {
	cfg      ClientConfig
	conn     net.Conn
	clientID string

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32

	events    chan *Event
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and performs the handshake.
func Dial(ctx context.Context, cfg ClientConfig) (*IPCClient, error) {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, cfg.SocketPath)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &IPCClient{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[uint32]chan *Message),
		events:  make(chan *Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	var ack HandshakeResponse
	err = c.Call(ctx, MsgHandshake, HandshakeRequest{
		ClientName:      cfg.ClientName,
		ClientVersion:   cfg.ClientVersion,
		ProtocolVersion: ProtocolVersion,
	}, MsgHandshakeAck, &ack)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.clientID = ack.ClientID
	return c, nil
}

// ClientID is the id the daemon assigned.
func (c *IPCClient) ClientID() string { return c.clientID }

// Events delivers subscribed events. It is closed when the connection ends.
func (c *IPCClient) Events() <-chan *Event { return c.events }

// Done is closed when the connection ends.
func (c *IPCClient) Done() <-chan struct{} { return c.done }

// Close ends the connection. Pending calls fail with ErrConnectionLost.
func (c *IPCClient) Close() error {
	c.closed.Store(true)
	return c.conn.Close()
}

func (c *IPCClient) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		close(c.events)
		close(c.done)
	})
}

func (c *IPCClient) readLoop() {
	defer c.shutdown()
	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return
		}
		switch msg.Header.Type {
		case MsgEvent:
			var ev Event
			if err := Decode(msg.Payload, &ev); err != nil {
				continue
			}
			select {
			case c.events <- &ev:
			default:
			}
		case MsgPing:
			_ = c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))
		default:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			delete(c.pending, msg.Header.RequestID)
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (c *IPCClient) write(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(c.conn)
}

// Call sends req as t, waits for a reply of type want and decodes it into
// resp. A MsgError reply is returned as *ErrorResponse.
func (c *IPCClient) Call(ctx context.Context, t MessageType, req any, want MessageType, resp any) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	payload, err := Encode(req)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	id := c.nextReqID.Add(1)
	ch := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(NewMessage(t, id, payload)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		return decodeReply(msg, ok, want, resp)
	case <-c.done:
		select {
		case msg, ok := <-ch:
			return decodeReply(msg, ok, want, resp)
		default:
			return ErrConnectionLost
		}
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeReply(msg *Message, ok bool, want MessageType, resp any) error {
	if !ok {
		return ErrConnectionLost
	}
	if msg.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(msg.Payload, &e); err != nil {
			return err
		}
		return &e
	}
	if msg.Header.Type != want {
		return fmt.Errorf("unexpected response type %s", msg.Header.Type)
	}
	return Decode(msg.Payload, resp)
}

// Ping round-trips a ping.
func (c *IPCClient) Ping(ctx context.Context) error {
	return c.Call(ctx, MsgPing, nil, MsgPong, nil)
}

// Status fetches the daemon status.
func (c *IPCClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	return &resp, c.Call(ctx, MsgStatus, nil, MsgStatusResp, &resp)
}

// Health fetches the health report.
func (c *IPCClient) Health(ctx context.Context) (*health.Report, error) {
	var resp health.Report
	return &resp, c.Call(ctx, MsgHealth, nil, MsgHealthResp, &resp)
}

// Focused fetches the focused node.
func (c *IPCClient) Focused(ctx context.Context) (*NodeResponse, error) {
	var resp NodeResponse
	return &resp, c.Call(ctx, MsgFocused, nil, MsgFocusedResp, &resp)
}

// AtPoint fetches the node at screen coordinates.
func (c *IPCClient) AtPoint(ctx context.Context, x, y int) (*NodeResponse, error) {
	var resp NodeResponse
	return &resp, c.Call(ctx, MsgAtPoint, AtPointRequest{X: x, Y: y}, MsgAtPointResp, &resp)
}

// Applications lists accessible applications.
func (c *IPCClient) Applications(ctx context.Context) ([]a11y.AppSummary, error) {
	var resp ApplicationsResponse
	err := c.Call(ctx, MsgApplications, nil, MsgApplicationsResp, &resp)
	return resp.Applications, err
}

// Tree fetches a subtree.
func (c *IPCClient) Tree(ctx context.Context, ref a11y.Ref, depth int) (*NodeResponse, error) {
	var resp NodeResponse
	return &resp, c.Call(ctx, MsgTree, TreeRequest{Ref: ref, Depth: depth}, MsgTreeResp, &resp)
}

// Text fetches a node's text.
func (c *IPCClient) Text(ctx context.Context, ref a11y.Ref) (string, error) {
	var resp TextResponse
	err := c.Call(ctx, MsgText, RefRequest{Ref: ref}, MsgTextResp, &resp)
	return resp.Text, err
}

// Actions lists a node's actions.
func (c *IPCClient) Actions(ctx context.Context, ref a11y.Ref) ([]string, error) {
	var resp ActionsResponse
	err := c.Call(ctx, MsgActions, RefRequest{Ref: ref}, MsgActionsResp, &resp)
	return resp.Actions, err
}

// DoAction invokes a named action.
func (c *IPCClient) DoAction(ctx context.Context, ref a11y.Ref, action string) (bool, error) {
	var resp DoActionResponse
	err := c.Call(ctx, MsgDoAction, DoActionRequest{Ref: ref, Action: action}, MsgDoActionResp, &resp)
	return resp.Performed, err
}

// Subscribe asks for events of the given types; none means all.
func (c *IPCClient) Subscribe(ctx context.Context, events ...EventType) (*SubscribeResponse, error) {
	var resp SubscribeResponse
	return &resp, c.Call(ctx, MsgSubscribe, SubscribeRequest{Events: events}, MsgSubscribeResp, &resp)
}

// Unsubscribe stops all events.
func (c *IPCClient) Unsubscribe(ctx context.Context) error {
	return c.Call(ctx, MsgUnsubscribe, nil, MsgUnsubscribeResp, nil)
}
