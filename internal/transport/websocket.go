package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anytalk-oss/anytalk-core/anyerr"
)

// maxFrameSize mirrors the vendor protocol's 16 MiB single-frame cap
// (spec §4.2); any inbound frame declaring a larger length is rejected by
// the underlying library before it ever reaches ReadFrame.
const maxFrameSize = 16 * 1024 * 1024

// defaultReadTimeout is used by ReadFrame if SetReadTimeout was never
// called; session workers always call it first, so this only matters for
// other embedders of Client.
const defaultReadTimeout = 200 * time.Millisecond

// FrameKind classifies a decoded inbound WebSocket frame.
type FrameKind int

const (
	FrameBinary FrameKind = iota
	FrameText
	FrameClose
)

type frameResult struct {
	kind    FrameKind
	payload []byte
	err     error
}

// Client is an RFC 6455 WebSocket client running over an already-established
// *Stream. Handshake, masking of outbound client frames, and frame-length
// encoding are delegated to gorilla/websocket, the library every WebSocket
// client in the retrieved example pack uses; this type adapts that library's
// API to the would-block/closed distinction and coarse error kinds spec §4.2
// requires.
//
// gorilla/websocket permanently poisons a connection's read path the first
// time a SetReadDeadline-bounded read times out inside NextReader — every
// later ReadMessage call returns the stashed timeout error without touching
// the socket again, and the library panics after 1000 such calls. ReadFrame
// can therefore never call conn.SetReadDeadline itself. Instead a dedicated
// goroutine owns every call to conn.ReadMessage, reading with no deadline at
// all and delivering each frame over readCh; ReadFrame applies its timeout
// by racing that channel against a timer instead.
type Client struct {
	conn   *websocket.Conn
	stream *Stream

	readCh      chan frameResult
	readTimeout atomic.Int64 // nanoseconds; 0 means "use defaultReadTimeout"

	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Connect dials host:port, completes the TLS handshake via DialTLS, then
// performs the WebSocket upgrade at path with extraHeaders attached to the
// handshake request.
func Connect(ctx context.Context, host string, port int, path string, extraHeaders http.Header) (*Client, error) {
	stream, err := DialTLS(ctx, host, port)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		NetDialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return stream.raw(), nil
		},
		HandshakeTimeout: 10 * time.Second,
	}

	u := url.URL{Scheme: "wss", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}
	conn, resp, err := dialer.DialContext(ctx, u.String(), extraHeaders)
	if err != nil {
		stream.Close()
		return nil, anyerr.Wrap(anyerr.KindHandshake, "websocket upgrade", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn:     conn,
		stream:   stream,
		readCh:   make(chan frameResult, 1),
		closedCh: make(chan struct{}),
	}

	// The service's pings are answered with a pong carrying the same
	// payload (spec §4.2); this replaces gorilla's default handler,
	// which already does the same thing, to keep the behavior explicit.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	go c.readLoop()

	return c, nil
}

// readLoop is the sole caller of conn.ReadMessage. It never sets a read
// deadline, so it blocks indefinitely between frames instead of poisoning
// the connection; ReadFrame's timeout is applied purely on the receiving
// side of readCh.
func (c *Client) readLoop() {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		res := classifyRead(messageType, payload, err)
		select {
		case c.readCh <- res:
		case <-c.closedCh:
			return
		}
		if err != nil {
			return
		}
	}
}

func classifyRead(messageType int, payload []byte, err error) frameResult {
	if err == nil {
		switch messageType {
		case websocket.BinaryMessage:
			return frameResult{kind: FrameBinary, payload: payload}
		case websocket.TextMessage:
			return frameResult{kind: FrameText, payload: payload}
		default:
			return frameResult{kind: FrameBinary, payload: payload}
		}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return frameResult{kind: FrameClose}
	}
	// gorilla enforces the 16 MiB single-frame cap (spec §4.2) itself, via
	// SetReadLimit, and reports it as a plain error rather than a
	// *CloseError; it carries no typed sentinel, so the wording of its
	// own error message is the only signal available.
	if strings.Contains(err.Error(), "read limit exceeded") {
		return frameResult{err: anyerr.Wrap(anyerr.KindFrameTooLarge, "frame exceeds maximum size", err)}
	}
	if errors.Is(err, net.ErrClosed) {
		return frameResult{err: anyerr.Wrap(anyerr.KindConnectionClosed, "connection closed", err)}
	}
	return frameResult{err: anyerr.Wrap(anyerr.KindConnectionClosed, "websocket read", err)}
}

// SetReadTimeout bounds the next ReadFrame call; a timeout surfaces as an
// error wrapping anyerr.KindWouldBlock, distinct from a closed connection,
// so the session loop can tell "nothing yet" from "connection is gone." It
// never touches the underlying gorilla connection's read deadline — see the
// Client doc comment.
func (c *Client) SetReadTimeout(d time.Duration) error {
	c.readTimeout.Store(int64(d))
	return nil
}

// ReadFrame returns the next binary/text payload, or FrameClose when the
// peer sends a close frame. Ping frames are answered transparently and
// never surfaced here; pong frames are discarded by the underlying library.
func (c *Client) ReadFrame() (FrameKind, []byte, error) {
	d := time.Duration(c.readTimeout.Load())
	if d <= 0 {
		d = defaultReadTimeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-c.readCh:
		return res.kind, res.payload, res.err
	case <-timer.C:
		return FrameBinary, nil, anyerr.Wrap(anyerr.KindWouldBlock, "read timeout", context.DeadlineExceeded)
	}
}

// SendBinary writes a single binary message, masked per RFC 6455 by the
// underlying library.
func (c *Client) SendBinary(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return anyerr.Wrap(anyerr.KindConnectionClosed, "websocket write", err)
	}
	return nil
}

// Close is idempotent. It unblocks readLoop even if it's sitting in a
// pending send to readCh that nothing is draining anymore.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
		close(c.closedCh)
	})
	return c.closeErr
}
