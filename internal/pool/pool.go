// Package pool implements the Connection Pool described in spec §4.7: a
// single pre-connected WebSocket "hot spare," replenished by a background
// maintainer goroutine with bounded retry backoff.
package pool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anytalk-oss/anytalk-core/internal/protocol"
	"github.com/anytalk-oss/anytalk-core/internal/transport"
)

const (
	retryBackoff  = 3 * time.Second
	consumedWait  = 30 * time.Second
	settlingDelay = 100 * time.Millisecond
)

// Credentials are the vendor identifiers attached to every dial as request
// headers (spec §6).
type Credentials struct {
	AppID      string
	AccessKey  string
	ResourceID string
	Mode       protocol.Mode
}

// Pool maintains at most one idle pre-connected WebSocket. Start spawns the
// maintainer; Stop joins it and closes any held connection; Take is
// non-blocking.
type Pool struct {
	log   *zap.Logger
	creds Credentials
	// dial defaults to Dial; overridden in tests to avoid reaching the
	// real ASR service.
	dial func(ctx context.Context, creds Credentials) (*transport.Client, error)
	// retryBackoff/consumedWait/settlingDelay default to the package
	// constants; shortened in tests so the maintainer loop doesn't make
	// the suite wait tens of seconds.
	retryBackoff, consumedWait, settlingDelay time.Duration

	mu    sync.Mutex
	spare *transport.Client

	consumed chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New returns a Pool that dials using creds. Start must be called before
// Take will ever succeed.
func New(log *zap.Logger, creds Credentials) *Pool {
	return &Pool{
		log:           log,
		creds:         creds,
		dial:          Dial,
		consumed:      make(chan struct{}, 1),
		retryBackoff:  retryBackoff,
		consumedWait:  consumedWait,
		settlingDelay: settlingDelay,
	}
}

// SetDialer overrides how the maintainer opens new connections. Must be
// called before Start; intended for tests and for hosts that need a custom
// transport (e.g. a proxy-aware dialer).
func (p *Pool) SetDialer(dial func(ctx context.Context, creds Credentials) (*transport.Client, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// DialNew opens a single new connection using the pool's configured dialer
// and credentials, bypassing the spare slot. Used for on-demand dials when
// Take finds no spare ready.
func (p *Pool) DialNew(ctx context.Context) (*transport.Client, error) {
	p.mu.Lock()
	dial := p.dial
	p.mu.Unlock()
	return dial(ctx, p.creds)
}

// Start spawns the maintainer goroutine. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.maintain(stopCh)
}

// Stop joins the maintainer and closes any held spare connection. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh := p.stopCh
	p.mu.Unlock()

	close(stopCh)
	p.wg.Wait()

	p.mu.Lock()
	spare := p.spare
	p.spare = nil
	p.mu.Unlock()
	if spare != nil {
		spare.Close()
	}
}

// Take atomically removes and returns the spare connection, or nil if none
// is ready. Never blocks.
func (p *Pool) Take() *transport.Client {
	p.mu.Lock()
	spare := p.spare
	p.spare = nil
	p.mu.Unlock()

	if spare != nil {
		select {
		case p.consumed <- struct{}{}:
		default:
		}
	}
	return spare
}

func (p *Pool) maintain(stopCh chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		p.mu.Lock()
		needsConn := p.spare == nil
		p.mu.Unlock()

		if needsConn {
			p.log.Debug("pre-connecting to ASR service")
			conn, err := p.dial(context.Background(), p.creds)
			if err != nil {
				p.log.Warn("pre-connection failed, retrying", zap.Error(err), zap.Duration("backoff", p.retryBackoff))
				if !sleepOrStop(p.retryBackoff, stopCh) {
					return
				}
				continue
			}
			p.log.Debug("pre-connection established")
			p.mu.Lock()
			p.spare = conn
			p.mu.Unlock()
		}

		if !waitConsumedOrStop(p.consumed, p.consumedWait, stopCh) {
			return
		}
		if !sleepOrStop(p.settlingDelay, stopCh) {
			return
		}
	}
}

func sleepOrStop(d time.Duration, stopCh chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

func waitConsumedOrStop(consumed chan struct{}, timeout time.Duration, stopCh chan struct{}) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-consumed:
		return true
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// Dial opens a single new WebSocket connection to the ASR service using
// creds, attaching the vendor headers and a fresh connect-id (spec §6).
func Dial(ctx context.Context, creds Credentials) (*transport.Client, error) {
	host, port, path := protocol.Endpoint(creds.Mode)

	headers := http.Header{}
	headers.Set("X-Api-App-Key", creds.AppID)
	headers.Set("X-Api-Access-Key", creds.AccessKey)
	headers.Set("X-Api-Resource-Id", creds.ResourceID)
	headers.Set("X-Api-Connect-Id", uuid.New().String())

	return transport.Connect(ctx, host, port, path, headers)
}
