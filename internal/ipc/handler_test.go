package ipc

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atbridge/internal/a11y"
	"atbridge/internal/a11y/a11ytest"
	"atbridge/internal/bridge"
	"atbridge/internal/health"
	"atbridge/internal/logging"
)

// fakeBackend serves queries from a client over the fake desktop.
type fakeBackend struct {
	*a11y.Client
	status bridge.Status
}

func (f *fakeBackend) Status() bridge.Status { return f.status }

func (f *fakeBackend) Health(context.Context) health.Report {
	return health.Report{Status: health.StatusHealthy, Ready: true}
}

func newFakeBackend(t *testing.T) (*fakeBackend, *a11ytest.Service) {
	t.Helper()
	svc := a11ytest.Desktop()
	c := a11y.NewClient(svc, a11y.WithClientLogger(logging.Discard()), a11y.WithQueryDepth(1))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return &fakeBackend{Client: c, status: bridge.Status{Initialized: true, Braille: true}}, svc
}

func call(t *testing.T, h Handler, typ MessageType, req any) *Message {
	t.Helper()
	payload, err := Encode(req)
	require.NoError(t, err)
	resp, err := h.HandleMessage(context.Background(), nil, NewMessage(typ, 7, payload))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, uint32(7), resp.Header.RequestID)
	return resp
}

func decodeAs[T any](t *testing.T, msg *Message, want MessageType) T {
	t.Helper()
	require.Equal(t, want, msg.Header.Type, string(msg.Payload))
	var v T
	require.NoError(t, Decode(msg.Payload, &v))
	return v
}

func errorCode(t *testing.T, msg *Message) int {
	t.Helper()
	e := decodeAs[ErrorResponse](t, msg, MsgError)
	return e.Code
}

func TestHandlerStatusAndHealth(t *testing.T) {
	b, _ := newFakeBackend(t)
	h := NewRequestHandler(b, logging.Discard())

	st := decodeAs[StatusResponse](t, call(t, h, MsgStatus, nil), MsgStatusResp)
	assert.True(t, st.Bridge.Initialized)
	assert.True(t, st.Bridge.Braille)

	rep := decodeAs[health.Report](t, call(t, h, MsgHealth, nil), MsgHealthResp)
	assert.Equal(t, health.StatusHealthy, rep.Status)
}

func TestHandlerNodeQueries(t *testing.T) {
	b, svc := newFakeBackend(t)
	svc.SetPoint(1, 2, a11ytest.Ref("/app/editor/entry"))
	h := NewRequestHandler(b, logging.Discard())

	focused := decodeAs[NodeResponse](t, call(t, h, MsgFocused, nil), MsgFocusedResp)
	require.True(t, focused.Found)
	assert.Equal(t, "OK", focused.Node.Name)
	assert.Equal(t, "push button", focused.Node.Role)
	assert.Contains(t, focused.Node.States, "focused")

	at := decodeAs[NodeResponse](t, call(t, h, MsgAtPoint, AtPointRequest{X: 1, Y: 2}), MsgAtPointResp)
	require.True(t, at.Found)
	assert.Equal(t, "Body", at.Node.Name)

	miss := decodeAs[NodeResponse](t, call(t, h, MsgAtPoint, AtPointRequest{X: 9, Y: 9}), MsgAtPointResp)
	assert.False(t, miss.Found)
	assert.Nil(t, miss.Node)

	apps := decodeAs[ApplicationsResponse](t, call(t, h, MsgApplications, nil), MsgApplicationsResp)
	require.Len(t, apps.Applications, 2)
	assert.Equal(t, "Editor", apps.Applications[0].Name)

	tree := decodeAs[NodeResponse](t, call(t, h, MsgTree, TreeRequest{Depth: 2}), MsgTreeResp)
	require.True(t, tree.Found)
	require.Len(t, tree.Node.Children, 2)
	assert.Equal(t, "Editor", tree.Node.Children[0].Name)
	require.Len(t, tree.Node.Children[0].Children, 1)
	assert.Empty(t, tree.Node.Children[0].Children[0].Children, "depth limit")
}

func TestHandlerTextActions(t *testing.T) {
	b, svc := newFakeBackend(t)
	h := NewRequestHandler(b, logging.Discard())
	entry := a11ytest.Ref("/app/editor/entry")

	text := decodeAs[TextResponse](t, call(t, h, MsgText, RefRequest{Ref: entry}), MsgTextResp)
	assert.Equal(t, "hello world", text.Text)

	acts := decodeAs[ActionsResponse](t, call(t, h, MsgActions, RefRequest{Ref: entry}), MsgActionsResp)
	assert.Equal(t, []string{"activate"}, acts.Actions)

	done := decodeAs[DoActionResponse](t, call(t, h, MsgDoAction, DoActionRequest{Ref: entry, Action: "activate"}), MsgDoActionResp)
	assert.True(t, done.Performed)
	assert.Equal(t, []string{"/app/editor/entry#activate"}, svc.Performed())

	notOffered := decodeAs[DoActionResponse](t, call(t, h, MsgDoAction, DoActionRequest{Ref: entry, Action: "explode"}), MsgDoActionResp)
	assert.False(t, notOffered.Performed)
}

func TestHandlerLogsRequestID(t *testing.T) {
	b, _ := newFakeBackend(t)
	var buf bytes.Buffer
	log, err := logging.New(&logging.Config{Level: logging.LevelDebug, Format: logging.FormatText, Writer: &buf})
	require.NoError(t, err)
	h := NewRequestHandler(b, log)

	payload, err := Encode(DoActionRequest{Ref: a11ytest.Ref("/app/editor/entry"), Action: "activate"})
	require.NoError(t, err)
	ctx := logging.ContextWithRequestID(context.Background(), "client-1/9")
	_, err = h.HandleMessage(ctx, nil, NewMessage(MsgDoAction, 9, payload))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "action requested")
	assert.Contains(t, buf.String(), "request_id=client-1/9")
}

func TestHandlerErrors(t *testing.T) {
	b, _ := newFakeBackend(t)
	h := NewRequestHandler(b, logging.Discard())
	ghost := a11ytest.Ref("/nowhere")

	assert.Equal(t, CodeInvalidRequest, errorCode(t, call(t, h, MsgText, RefRequest{})))
	assert.Equal(t, CodeNotFound, errorCode(t, call(t, h, MsgText, RefRequest{Ref: ghost})))
	assert.Equal(t, CodeNotFound, errorCode(t, call(t, h, MsgDoAction, DoActionRequest{Ref: ghost, Action: "click"})))
	assert.Equal(t, CodeInvalidRequest, errorCode(t, call(t, h, MsgDoAction, DoActionRequest{Ref: ghost})))
	assert.Equal(t, CodeNotFound, errorCode(t, call(t, h, MsgTree, TreeRequest{Ref: ghost, Depth: 1})))
	assert.Equal(t, CodeUnsupported, errorCode(t, call(t, h, MessageType(0x0999), nil)))

	resp, err := h.HandleMessage(context.Background(), nil, NewMessage(MsgAtPoint, 1, []byte("{nope")))
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidRequest, errorCode(t, resp))

	require.NoError(t, b.Close())
	assert.Equal(t, CodeNotInitialized, errorCode(t, call(t, h, MsgTree, TreeRequest{Depth: 1})))
}
