package ctlproto

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ErrRemote wraps the Error string of a Response with OK == false.
var ErrRemote = errors.New("ctlproto: remote error")

// Client is a blocking, single-request-in-flight client for the
// control protocol, suitable for mgroupctl's one-shot CLI invocations
// and its interactive shell alike.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder

	mu     sync.Mutex
	nextID int64
}

// Dial connects to the control socket at socketPath (e.g.
// "/run/mgroupd/ctl.sock").
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	return &Client{
		conn:    conn,
		scanner: scanner,
		enc:     json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends op with params (marshaled to JSON) and decodes the
// response's Result into result, if non-nil. params and result may
// each be nil.
func (c *Client) Call(op Op, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := atomic.AddInt64(&c.nextID, 1)

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params for %s: %w", op, err)
		}
		raw = encoded
	}

	if err := c.enc.Encode(Request{ID: id, Op: op, Params: raw}); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("read response to %s: %w", op, err)
		}
		return fmt.Errorf("read response to %s: connection closed", op)
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode response to %s: %w", op, err)
	}

	if !resp.OK {
		return fmt.Errorf("%s: %w: %s", op, ErrRemote, resp.Error)
	}

	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result of %s: %w", op, err)
		}
	}

	return nil
}
