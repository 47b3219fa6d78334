package ctlproto

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
)

// Handler processes one decoded Request and returns a result value to
// be JSON-encoded into the Response, or an error whose Error() string
// is reported back to the client.
type Handler interface {
	Handle(ctx context.Context, op Op, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, op Op, params json.RawMessage) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, op Op, params json.RawMessage) (any, error) {
	return f(ctx, op, params)
}

// Server reads newline-delimited Requests off accepted connections and
// writes back newline-delimited Responses, one line in, one line out,
// serially per connection.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer constructs a Server. logger defaults to slog.Default().
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		logger:  logger.With(slog.String("component", "ctlproto")),
	}
}

// Serve accepts connections from l until ctx is done or Accept fails.
// Each connection is served synchronously in its own goroutine.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}

		result, err := s.handler.Handle(ctx, req.Op, req.Params)
		resp := Response{ID: req.ID}

		if err != nil {
			resp.OK = false
			resp.Error = err.Error()
		} else {
			resp.OK = true
			if result != nil {
				raw, mErr := json.Marshal(result)
				if mErr != nil {
					resp.OK = false
					resp.Error = "marshal result: " + mErr.Error()
				} else {
					resp.Result = raw
				}
			}
		}

		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("write response failed", slog.Any("error", err))
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("connection read error", slog.Any("error", err))
	}
}
