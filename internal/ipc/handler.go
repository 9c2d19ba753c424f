package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/bridge"
	"atbridge/internal/health"
	"atbridge/internal/input"
	"atbridge/internal/listener"
	"atbridge/internal/logging"
)

// Handler processes IPC messages.
type Handler interface {
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Backend is the part of the bridge manager served over the socket.
type Backend interface {
	Status() bridge.Status
	Health(ctx context.Context) health.Report
	FocusedNode(ctx context.Context) (a11y.Node, bool)
	NodeAtPoint(ctx context.Context, x, y int) (a11y.Node, bool)
	ListApplications(ctx context.Context) []a11y.AppSummary
	Tree(ctx context.Context, ref a11y.Ref, depth int) (a11y.Node, error)
	Resolve(ctx context.Context, ref a11y.Ref) (a11y.Node, bool)
	NodeText(ctx context.Context, n a11y.Node) string
	NodeActions(ctx context.Context, n a11y.Node) []string
	PerformAction(ctx context.Context, n a11y.Node, name string) bool
}

// RequestHandler answers status and accessibility requests from a Backend.
type RequestHandler struct {
	backend Backend
	log     *logging.Logger
}

// NewRequestHandler serves b.
func NewRequestHandler(b Backend, log *logging.Logger) *RequestHandler {
	if log == nil {
		log = logging.Default()
	}
	return &RequestHandler{backend: b, log: log.WithComponent("ipc")}
}

func nodeResponse(n a11y.Node, ok bool) NodeResponse {
	if !ok || n.IsZero() {
		return NodeResponse{}
	}
	info := NodeFrom(n)
	return NodeResponse{Found: true, Node: &info}
}

func invalid(msg *Message, err error) *Message {
	return NewErrorMessage(msg.Header.RequestID, CodeInvalidRequest, err.Error())
}

// HandleMessage dispatches one request.
func (h *RequestHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	b := h.backend

	switch msg.Header.Type {
	case MsgStatus:
		resp := StatusResponse{Bridge: b.Status()}
		if client != nil && client.server != nil {
			resp.Version = client.server.version
			resp.StartedAt = client.server.startedAt
			resp.Clients = client.server.ClientCount()
		}
		return NewResponse(MsgStatusResp, id, resp)

	case MsgHealth:
		return NewResponse(MsgHealthResp, id, b.Health(ctx))

	case MsgFocused:
		return NewResponse(MsgFocusedResp, id, nodeResponse(b.FocusedNode(ctx)))

	case MsgAtPoint:
		var req AtPointRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalid(msg, err), nil
		}
		return NewResponse(MsgAtPointResp, id, nodeResponse(b.NodeAtPoint(ctx, req.X, req.Y)))

	case MsgApplications:
		return NewResponse(MsgApplicationsResp, id, ApplicationsResponse{Applications: b.ListApplications(ctx)})

	case MsgTree:
		req := TreeRequest{Depth: -1}
		if err := Decode(msg.Payload, &req); err != nil {
			return invalid(msg, err), nil
		}
		n, err := b.Tree(ctx, req.Ref, req.Depth)
		if err != nil {
			return h.failed(ctx, msg, err), nil
		}
		return NewResponse(MsgTreeResp, id, nodeResponse(n, true))

	case MsgText:
		n, errMsg := h.resolve(ctx, msg)
		if errMsg != nil {
			return errMsg, nil
		}
		return NewResponse(MsgTextResp, id, TextResponse{Text: b.NodeText(ctx, n)})

	case MsgActions:
		n, errMsg := h.resolve(ctx, msg)
		if errMsg != nil {
			return errMsg, nil
		}
		return NewResponse(MsgActionsResp, id, ActionsResponse{Actions: b.NodeActions(ctx, n)})

	case MsgDoAction:
		var req DoActionRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return invalid(msg, err), nil
		}
		if req.Action == "" {
			return invalid(msg, fmt.Errorf("action name required")), nil
		}
		n, ok := b.Resolve(ctx, req.Ref)
		if !ok {
			return NewErrorMessage(id, CodeNotFound, "node not found: "+req.Ref.String()), nil
		}
		performed := b.PerformAction(ctx, n, req.Action)
		h.log.WithContext(ctx).Info("action requested", "ref", req.Ref.String(), "action", req.Action, "performed", performed)
		return NewResponse(MsgDoActionResp, id, DoActionResponse{Performed: performed})
	}
	return NewErrorMessage(id, CodeUnsupported, "unsupported message type "+msg.Header.Type.String()), nil
}

func (h *RequestHandler) resolve(ctx context.Context, msg *Message) (a11y.Node, *Message) {
	var req RefRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return a11y.Node{}, invalid(msg, err)
	}
	if req.Ref.IsZero() {
		return a11y.Node{}, invalid(msg, fmt.Errorf("ref required"))
	}
	n, ok := h.backend.Resolve(ctx, req.Ref)
	if !ok {
		return a11y.Node{}, NewErrorMessage(msg.Header.RequestID, CodeNotFound, "node not found: "+req.Ref.String())
	}
	return n, nil
}

func (h *RequestHandler) failed(ctx context.Context, msg *Message, err error) *Message {
	code := CodeInternal
	switch {
	case errors.Is(err, bridge.ErrNotInitialized), errors.Is(err, a11y.ErrNotConnected):
		code = CodeNotInitialized
	case errors.Is(err, a11y.ErrNotFound):
		code = CodeNotFound
	}
	h.log.WithContext(ctx).Debug("request failed", "type", msg.Header.Type.String(), "error", err)
	return NewErrorMessage(msg.Header.RequestID, code, err.Error())
}

// Broadcaster delivers streamed events.
type Broadcaster interface {
	Broadcast(ev *Event)
}

// EventSource is the part of the bridge manager that produces events.
type EventSource interface {
	RegisterEventListener(t a11y.EventType, h bridge.EventHandler) listener.RegistrationID
	UnregisterEventListener(t a11y.EventType, id listener.RegistrationID) bool
	SubscribeInput(h input.Handler) listener.RegistrationID
	UnsubscribeInput(id listener.RegistrationID) bool
}

// Publish forwards accessibility and input events from src to out until
// the returned stop function is called.
func Publish(src EventSource, out Broadcaster) (stop func()) {
	forward := func(ev a11y.Event) error {
		e, err := FromA11y(ev)
		if err != nil {
			return err
		}
		out.Broadcast(e)
		return nil
	}
	ids := make(map[a11y.EventType]listener.RegistrationID)
	for _, t := range a11y.EventTypes() {
		ids[t] = src.RegisterEventListener(t, forward)
	}
	inputID := src.SubscribeInput(func(ev input.Event) error {
		e, err := FromInput(ev)
		if err != nil {
			return err
		}
		out.Broadcast(e)
		return nil
	})

	return func() {
		for t, id := range ids {
			src.UnregisterEventListener(t, id)
		}
		src.UnsubscribeInput(inputID)
	}
}

// FromA11y converts an accessibility event.
func FromA11y(ev a11y.Event) (*Event, error) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch ev.Type {
	case a11y.EventFocusChanged:
		data := FocusData{Ref: ev.Source}
		if !ev.Node.IsZero() {
			info := NodeFrom(ev.Node)
			data.Node = &info
		}
		return NewEvent(EventFocusChanged, at, data)
	case a11y.EventStateChanged:
		state := ev.State.String()
		if ev.State == a11y.StateInvalid && ev.Detail != "" {
			state = ev.Detail
		}
		return NewEvent(EventStateChanged, at, StateData{Ref: ev.Source, State: state, Enabled: ev.Enabled})
	case a11y.EventKeystroke:
		return NewEvent(EventKeystroke, at, ev.Keystroke)
	}
	return nil, fmt.Errorf("unhandled accessibility event %s", ev.Type)
}

// FromInput converts a derived input event.
func FromInput(ev input.Event) (*Event, error) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	data := InputData{Device: ev.Device}
	var t EventType
	switch ev.Kind {
	case input.EventKeyDown:
		t, data.Key, data.Pressed = EventKeyDown, ev.Key.String(), true
	case input.EventKeyRepeat:
		t, data.Key, data.Pressed = EventKeyRepeat, ev.Key.String(), true
	case input.EventModifierChanged:
		t, data.Key, data.Pressed = EventModifierChanged, ev.Key.String(), ev.Pressed
	case input.EventGesture:
		t, data.Gesture = EventGesture, ev.Gesture
	default:
		return nil, fmt.Errorf("unhandled input event %s", ev.Kind)
	}
	return NewEvent(t, at, data)
}

// CaptureStateEvent reports capture starting or stopping.
func CaptureStateEvent(running bool, workers int) *Event {
	ev, _ := NewEvent(EventCaptureState, time.Now(), CaptureData{Running: running, Workers: workers})
	return ev
}
