package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
)

// ErrResultDecode is returned by Call when the gateway answered but the
// result did not fit the caller's type. The connection stays usable.
var ErrResultDecode = errors.New("gateway: cannot decode result")

// Conn is an authenticated WebSocket connection to one gateway. It is safe
// for concurrent use, although the pool hands each Conn to a single holder
// at a time.
type Conn struct {
	id        string
	url       string
	ws        *websocket.Conn
	hello     ConnectResult
	writeWait time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	err     error

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wsOnce    sync.Once
	wsErr     error
}

func newConn(ws *websocket.Conn, url string, writeWait time.Duration) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		url:       url,
		ws:        ws,
		writeWait: writeWait,
		pending:   make(map[string]chan *Response),
		done:      make(chan struct{}),
	}
	c.open.Store(true)
	go c.readLoop()
	return c
}

// ID returns the unique connection id used in logs.
func (c *Conn) ID() string {
	return c.id
}

// URL returns the gateway endpoint this connection was dialed to.
func (c *Conn) URL() string {
	return c.url
}

// Gateway returns what the gateway reported during the handshake.
func (c *Conn) Gateway() ConnectResult {
	return c.hello
}

// IsOpen reports whether the socket is still usable. It turns false as soon
// as a read or write fails or Close is called.
func (c *Conn) IsOpen() bool {
	return c.open.Load()
}

// Done is closed when the connection stops being usable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the socket. Calling Close more than
// once is safe; only the first call can return an error.
func (c *Conn) Close() error {
	c.shutdown(apperrors.ErrGatewayConnClosed)

	c.wsOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		c.writeMu.Unlock()
		c.wsErr = c.ws.Close()
	})
	return c.wsErr
}

// shutdown marks the connection unusable and fails every pending call.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.mu.Lock()
		c.err = cause
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) cause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call invokes method on the gateway and decodes the result into result,
// which may be nil. A gateway-side failure is returned as *Error and leaves
// the connection usable. Transport failures close the connection.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if !c.IsOpen() {
		return c.closedError()
	}

	req := Request{JSONRPC: "2.0", Method: method, ID: uuid.NewString()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return c.closedError()
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer c.forget(req.ID)

	if err := c.write(ctx, &req); err != nil {
		c.shutdown(err)
		c.Close()
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%w of %s: %w", ErrResultDecode, method, err)
			}
		}
		return nil
	case <-c.done:
		return c.closedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) closedError() error {
	if cause := c.cause(); cause != nil && cause != apperrors.ErrGatewayConnClosed {
		return fmt.Errorf("%w: %w", apperrors.ErrGatewayConnClosed, cause)
	}
	return apperrors.ErrGatewayConnClosed
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Conn) write(ctx context.Context, req *Request) error {
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(req)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.IsOpen() {
				log.WithField("conn", c.id).
					WithField("url", c.url).
					WithError(err).
					Debug("gateway connection lost")
			}
			c.shutdown(err)
			c.Close()
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.WithField("conn", c.id).WithError(err).Warn("malformed gateway frame")
			continue
		}
		if resp.ID == "" {
			// Unsolicited gateway event.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}
