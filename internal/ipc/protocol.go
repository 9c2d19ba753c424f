// Package ipc is the local control protocol between atbridged and its
// clients: screen readers, magnifiers and atbridgectl.
//
// Every message is a 16-byte big-endian header followed by a JSON
// payload. Requests are answered in order on the same connection;
// subscribed events are interleaved with responses as MsgEvent frames.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/bridge"
	"atbridge/internal/health"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x41544252 // "ATBR"

	// HeaderSize is the size of the header in bytes.
	HeaderSize = 16

	// MaxPayload bounds a single payload. A deep tree is the largest
	// legitimate message.
	MaxPayload = 16 << 20
)

// Header flags.
const (
	FlagJSON  uint8 = 0x04
	FlagEvent uint8 = 0x20
)

var (
	ErrBadMagic        = errors.New("ipc: invalid magic number")
	ErrBadVersion      = errors.New("ipc: unsupported protocol version")
	ErrPayloadTooLarge = errors.New("ipc: payload too large")
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status (0x01xx)
	MsgStatus     MessageType = 0x0100
	MsgStatusResp MessageType = 0x0101
	MsgHealth     MessageType = 0x0102
	MsgHealthResp MessageType = 0x0103

	// Accessibility queries (0x02xx)
	MsgFocused          MessageType = 0x0200
	MsgFocusedResp      MessageType = 0x0201
	MsgAtPoint          MessageType = 0x0202
	MsgAtPointResp      MessageType = 0x0203
	MsgApplications     MessageType = 0x0204
	MsgApplicationsResp MessageType = 0x0205
	MsgTree             MessageType = 0x0206
	MsgTreeResp         MessageType = 0x0207
	MsgText             MessageType = 0x0208
	MsgTextResp         MessageType = 0x0209
	MsgActions          MessageType = 0x020A
	MsgActionsResp      MessageType = 0x020B
	MsgDoAction         MessageType = 0x020C
	MsgDoActionResp     MessageType = 0x020D

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

var messageNames = map[MessageType]string{
	MsgPing: "ping", MsgPong: "pong", MsgHandshake: "handshake", MsgHandshakeAck: "handshake_ack",
	MsgError: "error", MsgStatus: "status", MsgStatusResp: "status_resp", MsgHealth: "health",
	MsgHealthResp: "health_resp", MsgFocused: "focused", MsgFocusedResp: "focused_resp",
	MsgAtPoint: "at_point", MsgAtPointResp: "at_point_resp", MsgApplications: "applications",
	MsgApplicationsResp: "applications_resp", MsgTree: "tree", MsgTreeResp: "tree_resp",
	MsgText: "text", MsgTextResp: "text_resp", MsgActions: "actions", MsgActionsResp: "actions_resp",
	MsgDoAction: "do_action", MsgDoActionResp: "do_action_resp", MsgSubscribe: "subscribe",
	MsgSubscribeResp: "subscribe_resp", MsgUnsubscribe: "unsubscribe",
	MsgUnsubscribeResp: "unsubscribe_resp", MsgEvent: "event",
}

func (t MessageType) String() string {
	if s, ok := messageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, header excluded
}

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: %08x", ErrBadMagic, h.Magic)
	}
	if h.Version == 0 || h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

// Write writes header and payload in one call so concurrent writers
// serialized by the caller never interleave partial frames.
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.encode(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Length > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.Length)
	}
	m := &Message{Header: *h}
	if h.Length > 0 {
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Error codes carried in ErrorResponse.
const (
	CodeUnknown          = 1
	CodeInvalidRequest   = 2
	CodeNotFound         = 3
	CodePermissionDenied = 4
	CodeInternal         = 5
	CodeRateLimited      = 6
	CodeNotInitialized   = 7
	CodeUnsupported      = 8
)

// ErrorResponse is sent when a request fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// HandshakeRequest introduces a client.
type HandshakeRequest struct {
	ClientName      string `json:"client_name"`
	ClientVersion   string `json:"client_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse assigns the client id.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// StatusResponse describes the daemon.
type StatusResponse struct {
	Version   string        `json:"version"`
	StartedAt time.Time     `json:"started_at"`
	Clients   int           `json:"clients"`
	Bridge    bridge.Status `json:"bridge"`
}

// HealthResponse is the health report.
type HealthResponse = health.Report

// NodeInfo is the wire form of an accessibility node.
type NodeInfo struct {
	Ref         a11y.Ref   `json:"ref"`
	Role        string     `json:"role"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	States      []string   `json:"states,omitempty"`
	ChildCount  int        `json:"child_count"`
	Children    []NodeInfo `json:"children,omitempty"`
}

// NodeFrom converts n and its captured descendants.
func NodeFrom(n a11y.Node) NodeInfo {
	info := NodeInfo{
		Ref:         n.Ref(),
		Role:        n.RoleName(),
		Name:        n.Name(),
		Description: n.Description(),
		States:      n.States().Names(),
		ChildCount:  n.ChildCount(),
	}
	for _, c := range n.Children() {
		info.Children = append(info.Children, NodeFrom(c))
	}
	return info
}

// NodeResponse answers focused, at point and tree requests.
type NodeResponse struct {
	Found bool      `json:"found"`
	Node  *NodeInfo `json:"node,omitempty"`
}

// AtPointRequest asks for the node at screen coordinates.
type AtPointRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TreeRequest asks for a subtree. A zero ref means the desktop; a negative
// depth means the daemon's default.
type TreeRequest struct {
	Ref   a11y.Ref `json:"ref"`
	Depth int      `json:"depth"`
}

// RefRequest names a node for text and actions requests.
type RefRequest struct {
	Ref a11y.Ref `json:"ref"`
}

// ApplicationsResponse lists applications.
type ApplicationsResponse struct {
	Applications []a11y.AppSummary `json:"applications"`
}

// TextResponse carries a node's text.
type TextResponse struct {
	Text string `json:"text"`
}

// ActionsResponse lists a node's actions.
type ActionsResponse struct {
	Actions []string `json:"actions"`
}

// DoActionRequest invokes a named action.
type DoActionRequest struct {
	Ref    a11y.Ref `json:"ref"`
	Action string   `json:"action"`
}

// DoActionResponse reports whether the action ran.
type DoActionResponse struct {
	Performed bool `json:"performed"`
}

// EventType is a streamed event kind. It travels as its name.
type EventType uint8

const (
	EventFocusChanged EventType = iota + 1
	EventStateChanged
	EventKeystroke
	EventKeyDown
	EventKeyRepeat
	EventModifierChanged
	EventGesture
	EventCaptureState
)

var eventNames = [...]string{
	EventFocusChanged:    "focus-changed",
	EventStateChanged:    "state-changed",
	EventKeystroke:       "keystroke",
	EventKeyDown:         "key-down",
	EventKeyRepeat:       "key-repeat",
	EventModifierChanged: "modifier-changed",
	EventGesture:         "gesture",
	EventCaptureState:    "capture-state",
}

func (t EventType) String() string {
	if t.Valid() {
		return eventNames[t]
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t > 0 && int(t) < len(eventNames)
}

// MarshalText encodes t as its name.
func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown event type %d", uint8(t))
	}
	return []byte(eventNames[t]), nil
}

// UnmarshalText decodes an event name.
func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// AllEvents lists every streamed event type.
func AllEvents() []EventType {
	out := make([]EventType, 0, len(eventNames)-1)
	for t := EventFocusChanged; t.Valid(); t++ {
		out = append(out, t)
	}
	return out
}

// ParseEventType looks up an event type by name.
func ParseEventType(s string) (EventType, error) {
	for _, t := range AllEvents() {
		if eventNames[t] == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// SubscribeRequest selects event types; empty means all.
type SubscribeRequest struct {
	Events []EventType `json:"events"`
}

// SubscribeResponse confirms a subscription.
type SubscribeResponse struct {
	SubscriptionID string      `json:"subscription_id"`
	Events         []EventType `json:"events"`
}

// Event is a streamed event. Data holds one of the *Data types below.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an event.
func NewEvent(t EventType, at time.Time, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{Type: t, Timestamp: at, Data: raw}, nil
}

// FocusData accompanies focus-changed.
type FocusData struct {
	Ref  a11y.Ref  `json:"ref"`
	Node *NodeInfo `json:"node,omitempty"`
}

// StateData accompanies state-changed.
type StateData struct {
	Ref     a11y.Ref `json:"ref"`
	State   string   `json:"state"`
	Enabled bool     `json:"enabled"`
}

// InputData accompanies key and gesture events.
type InputData struct {
	Key     string `json:"key,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`
	Gesture string `json:"gesture,omitempty"`
	Device  string `json:"device,omitempty"`
}

// CaptureData accompanies capture-state.
type CaptureData struct {
	Running bool `json:"running"`
	Workers int  `json:"workers"`
}

// Encode encodes a payload to JSON.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes a JSON payload. An empty payload leaves v untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error reply.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a reply carrying v.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
