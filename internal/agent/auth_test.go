package agent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/config"
	"github.com/zfdash/zfdash/internal/ipc"
)

func authPair() (*ipc.Conn, *ipc.Conn) {
	a, b := net.Pipe()
	return ipc.NewConn(a, "test"), ipc.NewConn(b, "test")
}

func TestAuthHandshakeSuccess(t *testing.T) {
	client, server := authPair()
	defer client.Close()
	defer server.Close()

	key := config.DeriveAgentKey("hunter2")
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ServerAuthenticate(server, key)
	}()

	require.NoError(t, ClientAuthenticate(client, "hunter2"))
	require.NoError(t, <-serverDone)
}

func TestAuthHandshakeWrongPassword(t *testing.T) {
	client, server := authPair()
	defer client.Close()
	defer server.Close()

	key := config.DeriveAgentKey("hunter2")
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ServerAuthenticate(server, key)
	}()

	err := ClientAuthenticate(client, "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthCodeFailed, authErr.Code)

	require.ErrorAs(t, <-serverDone, &authErr)
	assert.Equal(t, AuthCodeFailed, authErr.Code)
}

func TestAuthHandshakeMalformedResponse(t *testing.T) {
	client, server := authPair()
	defer client.Close()
	defer server.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ServerAuthenticate(server, []byte("key"))
	}()

	var challenge map[string]interface{}
	require.NoError(t, client.ReceiveJSON(&challenge, AuthTimeout))
	assert.Contains(t, challenge, "nonce")
	require.NoError(t, client.SendJSON(map[string]string{"response": ""}))

	// The server answers with an error frame before it gives up.
	var result map[string]interface{}
	require.NoError(t, client.ReceiveJSON(&result, AuthTimeout))
	assert.Equal(t, "error", result["status"])
	assert.Equal(t, AuthCodeMalformed, result["code"])

	var authErr *AuthError
	require.ErrorAs(t, <-serverDone, &authErr)
	assert.Equal(t, AuthCodeMalformed, authErr.Code)
}

// The derivation must be deterministic and password-sensitive; both sides
// compute it independently.
func TestDeriveAgentKey(t *testing.T) {
	k1 := config.DeriveAgentKey("pw")
	k2 := config.DeriveAgentKey("pw")
	k3 := config.DeriveAgentKey("other")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 32)
}
