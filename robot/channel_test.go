package robot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"nhooyr.io/websocket"
)

type recordingHandler struct {
	mu   sync.Mutex
	cmds []Command
}

func (h *recordingHandler) HandleRobotCommand(ctx context.Context, cmd Command) {
	h.mu.Lock()
	h.cmds = append(h.cmds, cmd)
	h.mu.Unlock()
}

func (h *recordingHandler) commands() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Command, len(h.cmds))
	copy(out, h.cmds)
	return out
}

// testController is a fake robot controller endpoint. Everything the
// channel sends lands on sent; everything pushed to deliver goes back
// over the wire.
type testController struct {
	srv     *httptest.Server
	sent    chan string
	deliver chan string
}

func newTestController(t *testing.T) *testController {
	t.Helper()
	tc := &testController{
		sent:    make(chan string, 16),
		deliver: make(chan string, 16),
	}
	tc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		go func() {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				select {
				case tc.sent <- string(data):
				default:
				}
			}
		}()
		for msg := range tc.deliver {
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(func() {
		close(tc.deliver)
		tc.srv.Close()
	})
	return tc
}

func (tc *testController) addr() string {
	return "ws" + strings.TrimPrefix(tc.srv.URL, "http")
}

func TestChannelConnectInvalidEndpoint(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewChannel(logger)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	for _, addr := range []string{"http://localhost:1234", "ws://", "://nope", "not an address at all\x7f"} {
		err := c.Connect(context.Background(), addr)
		test.That(t, errors.Is(err, ErrInvalidEndpoint), test.ShouldBeTrue)
		test.That(t, c.State(), test.ShouldEqual, Disconnected)
	}
}

func TestChannelSendWhileDisconnected(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewChannel(logger)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, c.Send(context.Background(), "movel(...)"), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, Disconnected)
}

func TestChannelReceiveDispatch(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tc := newTestController(t)
	handler := &recordingHandler{}

	c := NewChannel(logger)
	c.SetHandler(handler)
	test.That(t, c.Connect(context.Background(), tc.addr()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, Connected)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	// connecting again is a no-op
	test.That(t, c.Connect(context.Background(), tc.addr()), test.ShouldBeNil)

	tc.deliver <- "garbage"
	tc.deliver <- `{"command":"orbit_complete","orbit":1}`
	tc.deliver <- `{"command":"capture_complete"}`

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, handler.commands(), test.ShouldResemble, []Command{
			OrbitComplete{Orbit: 1},
			CaptureComplete{},
		})
	})
}

func TestChannelSendAndMarks(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tc := newTestController(t)

	c := NewChannel(logger)
	c.SetHandler(&recordingHandler{})
	test.That(t, c.Connect(context.Background(), tc.addr()), test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, c.Send(context.Background(), "textmsg(\"hi\",\"there\")\n"), test.ShouldBeNil)
	select {
	case got := <-tc.sent:
		test.That(t, got, test.ShouldEqual, "textmsg(\"hi\",\"there\")\n")
	case <-time.After(5 * time.Second):
		t.Fatal("controller never received the command")
	}

	c.MarkMoving()
	test.That(t, c.State(), test.ShouldEqual, Moving)
	c.MarkCompleted()
	test.That(t, c.State(), test.ShouldEqual, Completed)

	test.That(t, c.Disconnect(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, Disconnected)

	// marks are meaningless while disconnected
	c.MarkMoving()
	test.That(t, c.State(), test.ShouldEqual, Disconnected)
}

func TestChannelSendSweep(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tc := newTestController(t)

	c := NewChannel(logger)
	c.SetHandler(&recordingHandler{})
	test.That(t, c.Connect(context.Background(), tc.addr()), test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	planes := []Plane{
		{Origin: r3.Vector{X: 100}, Normal: r3.Vector{Z: 1}},
		{Origin: r3.Vector{Y: 100}, Normal: r3.Vector{Z: 1}},
	}
	test.That(t, c.SendSweep(context.Background(), planes, 1, 0.5), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, Moving)

	for range planes {
		select {
		case got := <-tc.sent:
			test.That(t, got, test.ShouldStartWith, "movel(p[")
		case <-time.After(5 * time.Second):
			t.Fatal("controller never received the sweep")
		}
	}

	// a follow-up sweep goes out from any connected state and marks the
	// channel Moving again
	c.MarkCompleted()
	test.That(t, c.SendSweep(context.Background(), planes[:1], 1, 0.5), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, Moving)
	select {
	case got := <-tc.sent:
		test.That(t, got, test.ShouldStartWith, "movel(p[")
	case <-time.After(5 * time.Second):
		t.Fatal("controller never received the second sweep")
	}
}

func TestChannelDisconnectOnReceiveFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tc := newTestController(t)

	c := NewChannel(logger)
	c.SetHandler(&recordingHandler{})
	test.That(t, c.Connect(context.Background(), tc.addr()), test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	tc.srv.CloseClientConnections()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, c.State(), test.ShouldEqual, Disconnected)
	})
}
