// Package anyerr defines the coarse error kinds the core surfaces across
// package boundaries, so callers can classify a failure with errors.Is
// instead of matching strings.
package anyerr

import "errors"

// Kind identifies which stage of the pipeline produced an error.
type Kind error

var (
	// KindDNS covers hostname resolution failures in the TLS stream.
	KindDNS Kind = errors.New("dns failure")
	// KindTCP covers raw TCP connect failures.
	KindTCP Kind = errors.New("tcp failure")
	// KindTLSHandshake covers TLS handshake failures, including hostname
	// verification failures.
	KindTLSHandshake Kind = errors.New("tls handshake failure")
	// KindTLSRead covers TLS-layer read failures once the handshake
	// completed.
	KindTLSRead Kind = errors.New("tls read failure")
	// KindTLSWrite covers TLS-layer write failures once the handshake
	// completed.
	KindTLSWrite Kind = errors.New("tls write failure")
	// KindConnectionClosed indicates the peer closed the connection.
	KindConnectionClosed Kind = errors.New("connection closed")
	// KindWouldBlock indicates a read timed out without data; distinct
	// from KindConnectionClosed so callers can retry.
	KindWouldBlock Kind = errors.New("would block")
	// KindHandshake covers WebSocket upgrade handshake failures.
	KindHandshake Kind = errors.New("websocket handshake failure")
	// KindDial covers a connection pool / on-demand dial failure, the
	// union of KindDNS, KindTCP, KindTLSHandshake, and KindHandshake as
	// seen from the caller's perspective (spec §7: "TLS-failure" and
	// "Handshake-failure" are both surfaced as dial-failure).
	KindDial Kind = errors.New("dial failure")
	// KindFrameTooLarge indicates a single WebSocket frame declared a
	// length over the 16 MiB cap.
	KindFrameTooLarge Kind = errors.New("frame exceeds maximum size")
)

// Wrap attaches kind to err using %w so errors.Is(result, kind) succeeds
// while the original message is preserved.
func Wrap(kind Kind, msg string, err error) error {
	return &wrapped{kind: kind, msg: msg, cause: err}
}

type wrapped struct {
	kind  Kind
	msg   string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.msg
	}
	return w.msg + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() error { return w.cause }

func (w *wrapped) Is(target error) bool { return target == w.kind }
