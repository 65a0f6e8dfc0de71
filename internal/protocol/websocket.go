package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod is how long a close frame may take to send.
const closeGracePeriod = time.Second

// wsStream presents a websocket connection as a byte stream. Each Write is
// sent as one binary message; reads span message boundaries so the framing
// layer never sees them.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

// NewWebsocketStream adapts an established websocket connection.
func NewWebsocketStream(conn *websocket.Conn) io.ReadWriteCloser {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return s.conn.Close()
}

// WebsocketDialer returns a Dialer connecting to the given URL, which is
// normalized from http(s) to ws(s) first.
func WebsocketDialer(rawURL string, header http.Header) (Dialer, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("connecting to %s: %w (status %d)", target, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("connecting to %s: %w", target, err)
		}
		return NewWebsocketStream(conn), nil
	}, nil
}
