// Package transport implements the TLS dial and WebSocket Client components
// of spec §4.1/§4.2: a TCP+TLS handshake helper that hands its established
// socket to gorilla/websocket, and an RFC 6455 client built on top of it.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"

	"github.com/anytalk-oss/anytalk-core/anyerr"
)

// Stream is the TLS-handshaked TCP socket underlying a Client. Once
// Connect hands its net.Conn to gorilla/websocket, gorilla owns all further
// reads and writes on it; Stream itself exposes only the dial and the final
// Close, not per-call I/O (spec §4.1's read/write contract is realized by
// Client, which is the only thing that ever reads or writes the socket
// after the handshake).
type Stream struct {
	conn *tls.Conn
}

// insecureSkipVerifyForTests lets this package's own tests dial an
// httptest.Server's self-signed certificate without touching the system
// trust store. Never set outside a test binary.
var insecureSkipVerifyForTests = false

// AllowInsecureTLS toggles certificate verification for all subsequent
// DialTLS calls. Exported so other packages' tests can dial a local TLS
// fixture; never call this outside a test binary.
func AllowInsecureTLS(allow bool) {
	insecureSkipVerifyForTests = allow
}

// DialTLS resolves host (IPv4 or IPv6), opens a TCP socket, and completes a
// TLS client handshake with SNI set to host and peer hostname verification
// enabled against the platform trust store.
func DialTLS(ctx context.Context, host string, port int) (*Stream, error) {
	dialer := &net.Dialer{}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, anyerr.Wrap(anyerr.KindDNS, "resolve "+host, dnsErr)
		}
		return nil, anyerr.Wrap(anyerr.KindTCP, "dial "+addr, err)
	}

	tlsConn := tls.Client(tcpConn, &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerifyForTests,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, anyerr.Wrap(anyerr.KindTLSHandshake, "tls handshake with "+host, err)
	}

	return &Stream{conn: tlsConn}, nil
}

// Close closes the underlying socket.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// raw returns the underlying net.Conn for internal use by the WebSocket
// client's dialer, which takes over reading and writing it directly rather
// than going through Stream.
func (s *Stream) raw() net.Conn { return s.conn }
