// Package robot maintains the persistent command/event channel between
// the scan orchestrator and a remote robot controller. The transport
// is a plain websocket: free-form command text goes out, JSON command
// objects come in.
package robot

import (
	"context"
	"net/url"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"nhooyr.io/websocket"

	"go.viam.com/scansync/robot/urscript"
)

// ConnectionState is the channel's view of the robot link.
type ConnectionState int

// Connection states. Disconnected is the initial state and the only
// state reachable after an explicit disconnect or a transport failure.
const (
	Disconnected ConnectionState = iota
	Connected
	Moving
	Completed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Moving:
		return "moving"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrInvalidEndpoint is returned by Connect for addresses that do not
// form a usable websocket endpoint.
var ErrInvalidEndpoint = errors.New("robot endpoint must be a ws:// or wss:// address with a host")

// A Handler receives decoded robot commands. Dispatch happens on the
// channel's receive worker; implementations must not block on it
// indefinitely.
type Handler interface {
	HandleRobotCommand(ctx context.Context, cmd Command)
}

// A Channel is a persistent bidirectional message channel to a robot
// controller.
type Channel struct {
	logger golog.Logger

	mu      sync.Mutex
	handler Handler
	state   ConnectionState
	conn    *websocket.Conn
	cancel  func()

	activeBackgroundWorkers sync.WaitGroup
}

// NewChannel returns a disconnected channel. SetHandler must be called
// before Connect.
func NewChannel(logger golog.Logger) *Channel {
	return &Channel{logger: logger, state: Disconnected}
}

// SetHandler registers the consumer of decoded inbound commands.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport session and starts the receive loop. It
// is a no-op unless the channel is currently disconnected. A fresh
// Connect is required after any transport failure.
func (c *Channel) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disconnected {
		return nil
	}
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.Wrapf(ErrInvalidEndpoint, "address %q", addr)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil) //nolint:bodyclose
	if err != nil {
		return errors.Wrapf(err, "cannot connect to robot at %q", addr)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.state = Connected

	c.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		c.receiveLoop(recvCtx, conn)
	}, c.activeBackgroundWorkers.Done)

	c.logger.Infow("connected to robot controller", "address", addr)
	return nil
}

// receiveLoop blocks until a message arrives or the transport fails,
// dispatches what it can decode, and re-arms itself. It exits on
// explicit teardown or transport failure; a receive failure degrades
// the channel to Disconnected so callers know to reconnect.
func (c *Channel) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Errorw("robot receive failed; channel now disconnected", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				c.teardownLocked()
			}
			c.mu.Unlock()
			return
		}

		cmd, ok := decodeCommand(data)
		if !ok {
			c.logger.Debugw("dropping malformed robot message", "payload", string(data))
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler.HandleRobotCommand(ctx, cmd)
		}
	}
}

// Send writes free-form command text to the controller. While
// disconnected it fails silently (logged, no transport call); a
// transport-level write failure degrades the channel to Disconnected.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ctx, text)
}

func (c *Channel) sendLocked(ctx context.Context, text string) error {
	if c.state == Disconnected || c.conn == nil {
		c.logger.Debugw("dropping robot command; channel disconnected", "command", text)
		return nil
	}
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		c.teardownLocked()
		return errors.Wrap(err, "robot send failed; channel now disconnected")
	}
	return nil
}

// SendSweep streams one linear move per plane and marks the channel
// Moving. The sweep stops at the first transport failure.
func (c *Channel) SendSweep(ctx context.Context, planes []Plane, accel, vel float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range planes {
		if err := c.sendLocked(ctx, urscript.MoveL(PoseFromPlane(p), accel, vel)); err != nil {
			return errors.Wrapf(err, "sweep aborted at plane %d", i)
		}
	}
	if c.state != Disconnected {
		c.state = Moving
	}
	return nil
}

// MarkMoving records that the robot has been told to move.
func (c *Channel) MarkMoving() {
	c.mark(Moving)
}

// MarkCompleted records that the robot reported its motion sequence
// finished.
func (c *Channel) MarkCompleted() {
	c.mark(Completed)
}

func (c *Channel) mark(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disconnected {
		return
	}
	c.state = s
}

// Disconnect cancels the transport and sets the state to Disconnected.
// It is idempotent and safe to call from command handlers; it does not
// wait for the receive worker (Close does).
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *Channel) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(websocket.StatusNormalClosure, "channel closed"); err != nil {
			c.logger.Debugw("error closing robot transport", "error", err)
		}
		c.conn = nil
	}
	c.state = Disconnected
}

// Close disconnects and waits for the receive worker to exit.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil {
		return err
	}
	c.activeBackgroundWorkers.Wait()
	return nil
}
