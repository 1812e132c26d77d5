package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTimeout = errors.New("bus: request timed out")
	ErrClosed  = errors.New("bus: connection closed")
)

// DefaultTimeout bounds a request when the Conn has none configured.
const DefaultTimeout = 3 * time.Second

// RemoteError is an error reported by the peer's handler.
type RemoteError struct {
	Type    MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: %s: %s", e.Type, e.Message)
}

// Handler answers a request. The returned envelope's reply fields are sent
// back; ID and Reply are filled in by the Conn.
type Handler func(ctx context.Context, req Envelope) (Envelope, error)

// Conn multiplexes requests in both directions over one transport.
type Conn struct {
	transport Transport
	handler   Handler
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Envelope
	closed  chan struct{}
	once    sync.Once
}

func NewConn(t Transport, h Handler, timeout time.Duration, logger *slog.Logger) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		transport: t,
		handler:   h,
		timeout:   timeout,
		logger:    logger,
		pending:   make(map[string]chan Envelope),
		closed:    make(chan struct{}),
	}
}

// Serve reads frames until the transport fails or ctx ends. Requests are
// handled concurrently; replies are routed to waiting callers.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.Close()
	for {
		env, err := c.transport.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus recv: %w", err)
		}

		if env.Reply {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}
		go c.handle(ctx, env)
	}
}

func (c *Conn) handle(ctx context.Context, req Envelope) {
	var reply Envelope
	if c.handler == nil {
		reply.Error = "no handler"
	} else {
		var err error
		reply, err = c.handler(ctx, req)
		if err != nil {
			reply = Envelope{Error: err.Error()}
		} else if reply.Error == "" {
			reply.OK = true
		}
	}
	reply.ID = req.ID
	reply.Type = req.Type
	reply.Reply = true

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.transport.Send(sendCtx, reply); err != nil {
		c.logger.Debug("bus reply", "type", req.Type, "error", err)
	}
}

// Request sends req and waits for the reply, bounded by the Conn timeout.
func (c *Conn) Request(ctx context.Context, req Envelope) (Envelope, error) {
	req.ID = uuid.NewString()
	req.Reply = false

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Send(ctx, req); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Envelope{}, ErrTimeout
		}
		return Envelope{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, &RemoteError{Type: req.Type, Message: reply.Error}
		}
		return reply, nil
	case <-c.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Envelope{}, ErrTimeout
		}
		return Envelope{}, ctx.Err()
	}
}

// Close closes the transport and fails pending requests.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.transport.Close()
	})
	return err
}

// Done is closed once the connection has closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// GetLocalStorage reads key from the peer's storage.
func (c *Conn) GetLocalStorage(ctx context.Context, key string) (string, bool, error) {
	reply, err := c.Request(ctx, Envelope{Type: GetLocalStorage, Key: key})
	if err != nil {
		return "", false, err
	}
	return reply.Value, reply.Found, nil
}

// CacheLocalStorage writes key into the peer's storage.
func (c *Conn) CacheLocalStorage(ctx context.Context, key, value string) error {
	_, err := c.Request(ctx, Envelope{Type: CacheLocalStorage, Key: key, Value: value})
	return err
}

// MarkNotificationSent tells the peer a notification was shown locally.
func (c *Conn) MarkNotificationSent(ctx context.Context, notifType, date string, at time.Time) error {
	_, err := c.Request(ctx, Envelope{
		Type:             MarkNotificationSent,
		NotificationType: notifType,
		Date:             date,
		Timestamp:        at.UnixMilli(),
	})
	return err
}

// MarkMealCompleted asks the peer to record a completed meal slot.
func (c *Conn) MarkMealCompleted(ctx context.Context, slot string) error {
	_, err := c.Request(ctx, Envelope{Type: MarkMealCompleted, Slot: slot})
	return err
}

// CheckMealsNow asks the peer to re-check meal reminders immediately.
func (c *Conn) CheckMealsNow(ctx context.Context) error {
	_, err := c.Request(ctx, Envelope{Type: CheckMealsNow})
	return err
}
