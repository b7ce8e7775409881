package agent

import (
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/config"
	"github.com/zfdash/zfdash/internal/ipc"
)

func TestEnsureServerCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server-cert.pem")
	keyPath := filepath.Join(dir, "server-key.pem")

	cert, err := EnsureServerCertificate(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	keyInfo, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), keyInfo.Mode().Perm())
	certInfo, err := os.Stat(certPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), certInfo.Mode().Perm())

	pemData, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(pemData)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "ZfDash Agent", parsed.Subject.CommonName)
	assert.Contains(t, parsed.DNSNames, "localhost")

	// Second call reuses the cached material.
	again, err := EnsureServerCertificate(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], again.Certificate[0])
}

// Full agent path over loopback: hello, TLS, TOFU pin, auth, ready frame.
func TestAgentEndToEndTLS(t *testing.T) {
	dir := t.TempDir()
	cert, err := EnsureServerCertificate(
		filepath.Join(dir, "server-cert.pem"), filepath.Join(dir, "server-key.pem"))
	require.NoError(t, err)

	key := config.DeriveAgentKey("hunter2")
	ln, err := Listen(0, &cert, true, func() ([]byte, error) { return key, nil })
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		serverDone <- conn.SendJSON(ipc.ReadySignal{Ready: true})
	}()

	trust := NewTrustStore(filepath.Join(dir, "trusted_certs.json"))
	conn, tlsActive, err := Dial("127.0.0.1", port, "hunter2", true, trust, 0)
	require.NoError(t, err)
	defer conn.Close()
	assert.True(t, tlsActive)

	var ready ipc.ReadySignal
	require.NoError(t, conn.ReceiveJSON(&ready, DialTimeout))
	assert.True(t, ready.Ready)
	require.NoError(t, <-serverDone)

	// The server certificate got pinned during the handshake.
	assert.Contains(t, trust.Entries(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

func TestAgentRejectsPlaintextWhenTLSRequired(t *testing.T) {
	dir := t.TempDir()
	cert, err := EnsureServerCertificate(
		filepath.Join(dir, "server-cert.pem"), filepath.Join(dir, "server-key.pem"))
	require.NoError(t, err)

	ln, err := Listen(0, &cert, true, func() ([]byte, error) { return []byte("k"), nil })
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		// The handshake failure surfaces server-side as a rejected Accept.
		_, _ = ln.Accept()
	}()

	trust := NewTrustStore(filepath.Join(dir, "trusted_certs.json"))
	_, _, err = Dial("127.0.0.1", port, "pw", false, trust, 0)
	var negErr *ipc.NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, ipc.CodeTLSRequired, negErr.Code)
}

func TestAgentAuthFailureOverTLS(t *testing.T) {
	dir := t.TempDir()
	cert, err := EnsureServerCertificate(
		filepath.Join(dir, "server-cert.pem"), filepath.Join(dir, "server-key.pem"))
	require.NoError(t, err)

	key := config.DeriveAgentKey("correct")
	ln, err := Listen(0, &cert, true, func() ([]byte, error) { return key, nil })
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	go func() { _, _ = ln.Accept() }()

	trust := NewTrustStore(filepath.Join(dir, "trusted_certs.json"))
	_, _, err = Dial("127.0.0.1", port, "wrong", true, trust, 0)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthCodeFailed, authErr.Code)
}
