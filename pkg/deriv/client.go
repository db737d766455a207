package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned for requests on a session that has ended.
	ErrClosed = errors.New("deriv: connection closed")
	// ErrTimeout is returned when no response arrives within the request timeout.
	ErrTimeout = errors.New("deriv: request timeout")
	// ErrPongTimeout ends the session when a ping goes unanswered.
	ErrPongTimeout = errors.New("deriv: pong timeout")
)

const firstReqID = 10000

// Options configures a single websocket session.
type Options struct {
	URL            string
	AppID          string
	RequestTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	Dialer         *websocket.Dialer
	Logger         zerolog.Logger
}

// Client is one authenticated session with the venue. It does not reconnect;
// the connection manager dials a new Client after a failure.
type Client struct {
	conn    *websocket.Conn
	opts    Options
	log     zerolog.Logger
	reqID   atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan json.RawMessage

	ticks  chan Tick
	pongCh chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial opens the websocket and starts the reader and keepalive loops.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 5 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse deriv url: %w", err)
	}
	if opts.AppID != "" {
		q := u.Query()
		q.Set("app_id", opts.AppID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial deriv ws: %w", err)
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		log:     opts.Logger,
		pending: make(map[int64]chan json.RawMessage),
		ticks:   make(chan Tick, 256),
		pongCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.reqID.Store(firstReqID)
	conn.SetPongHandler(func(string) error {
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Ticks delivers subscribed ticks in arrival order. Closed when the session ends.
func (c *Client) Ticks() <-chan Tick { return c.ticks }

// Done is closed when the session ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the session ended, or nil while it is alive.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close ends the session.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = reason
		c.errMu.Unlock()

		// Ignore errors; connection may already be closed.
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
		close(c.done)

		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
}

func (c *Client) readLoop() {
	defer close(c.ticks)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				c.shutdown(ErrClosed)
				return
			}
			c.log.Warn().Err(err).Msg("deriv ws read error")
			c.shutdown(fmt.Errorf("deriv read: %w", err))
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Warn().Err(err).Msg("deriv ws parse error")
			continue
		}

		if env.MsgType == "tick" && env.Tick != nil {
			t := Tick{Symbol: env.Tick.Symbol, Time: time.Unix(env.Tick.Epoch, 0).UTC(), Price: env.Tick.Quote}
			select {
			case c.ticks <- t:
			case <-c.done:
				return
			}
			// the subscribe response itself also carries the first tick and a req_id
			if env.ReqID == nil {
				continue
			}
		}

		if env.ReqID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*env.ReqID]
			delete(c.pending, *env.ReqID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PongTimeout)); err != nil {
			c.shutdown(fmt.Errorf("deriv ping: %w", err))
			return
		}
		timer := time.NewTimer(c.opts.PongTimeout)
		select {
		case <-c.pongCh:
			timer.Stop()
		case <-timer.C:
			c.log.Warn().Dur("timeout", c.opts.PongTimeout).Msg("deriv pong missing")
			c.shutdown(ErrPongTimeout)
			return
		case <-c.done:
			timer.Stop()
			return
		}
	}
}

// Request sends payload with a fresh req_id and decodes the response into out.
// A venue error object is returned as *APIError.
func (c *Client) Request(ctx context.Context, payload map[string]any, out any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	id := c.reqID.Add(1)
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["req_id"] = id

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(fmt.Errorf("deriv write: %w", err))
		return fmt.Errorf("send req %d: %w", id, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case raw, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode req %d: %w", id, err)
		}
		if env.Error != nil {
			return env.Error
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode req %d: %w", id, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("req %d: %w", id, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}
