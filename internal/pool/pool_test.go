package pool

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anytalk-oss/anytalk-core/internal/protocol"
	"github.com/anytalk-oss/anytalk-core/internal/transport"
)

func acceptingWSServer(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, host, port
}

func testPool(t *testing.T, dial func(ctx context.Context, creds Credentials) (*transport.Client, error)) *Pool {
	t.Helper()
	transport.AllowInsecureTLS(true)
	t.Cleanup(func() { transport.AllowInsecureTLS(false) })

	p := New(zap.NewNop(), Credentials{AppID: "a", AccessKey: "b", ResourceID: "r", Mode: protocol.ModeBidiAsync})
	p.dial = dial
	p.retryBackoff = 10 * time.Millisecond
	p.consumedWait = 50 * time.Millisecond
	p.settlingDelay = 5 * time.Millisecond
	return p
}

func TestPoolFillsAndTakeRemovesSpare(t *testing.T) {
	_, host, port := acceptingWSServer(t)
	dial := func(ctx context.Context, creds Credentials) (*transport.Client, error) {
		return transport.Connect(ctx, host, port, "/", nil)
	}

	p := testPool(t, dial)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Take() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestPoolTakeIsNilWhenEmpty(t *testing.T) {
	p := testPool(t, func(ctx context.Context, creds Credentials) (*transport.Client, error) {
		return nil, errors.New("dial failed")
	})
	require.Nil(t, p.Take())
}

func TestPoolReplenishesAfterTake(t *testing.T) {
	_, host, port := acceptingWSServer(t)
	dial := func(ctx context.Context, creds Credentials) (*transport.Client, error) {
		return transport.Connect(ctx, host, port, "/", nil)
	}

	p := testPool(t, dial)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Take() != nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return p.Take() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestPoolStopClosesHeldSpare(t *testing.T) {
	_, host, port := acceptingWSServer(t)
	dial := func(ctx context.Context, creds Credentials) (*transport.Client, error) {
		return transport.Connect(ctx, host, port, "/", nil)
	}

	p := testPool(t, dial)
	p.Start()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.spare != nil
	}, time.Second, 5*time.Millisecond)

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Nil(t, p.spare)
}
