package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anytalk-oss/anytalk-core/anyerr"
)

// generateLoopbackCert builds an ephemeral self-signed cert for 127.0.0.1,
// used to stand up a local TLS listener instead of dialing a real host.
func generateLoopbackCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	require.NoError(t, err)
	return cert
}

func startTLSEchoServer(t *testing.T) string {
	t.Helper()
	cert := generateLoopbackCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestDialTLSDNSFailure(t *testing.T) {
	_, err := DialTLS(context.Background(), "this-host-does-not-resolve.invalid", 443)
	require.Error(t, err)
	require.True(t, errors.Is(err, anyerr.KindDNS) || errors.Is(err, anyerr.KindTCP))
}

func TestDialTLSConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = DialTLS(context.Background(), "127.0.0.1", addr.Port)
	require.Error(t, err)
	require.True(t, errors.Is(err, anyerr.KindTCP))
}

func TestDialTLSSucceedsAgainstLoopbackServer(t *testing.T) {
	// The loopback certificate is self-signed, so verification against the
	// system trust store is turned off for this dial.
	AllowInsecureTLS(true)
	t.Cleanup(func() { AllowInsecureTLS(false) })

	addr := startTLSEchoServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s, err := DialTLS(context.Background(), host, port)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
