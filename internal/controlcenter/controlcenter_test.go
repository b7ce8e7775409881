package controlcenter

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfdash/zfdash/internal/ipc"
	"github.com/zfdash/zfdash/internal/ipcclient"
)

func TestAddConnectionValidation(t *testing.T) {
	m := New(t.TempDir())

	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))
	assert.ErrorContains(t, m.AddConnection("nas", "10.0.0.6", 5555, true), "already exists")
	assert.ErrorContains(t, m.AddConnection("", "10.0.0.6", 5555, true), "invalid alias")
	assert.ErrorContains(t, m.AddConnection("bad/alias", "10.0.0.6", 5555, true), "invalid alias")
	assert.ErrorContains(t, m.AddConnection("b", "", 5555, true), "host")
	assert.ErrorContains(t, m.AddConnection("c", "h", 0, true), "port")
	assert.ErrorContains(t, m.AddConnection("d", "h", 65536, true), "port")
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))
	require.NoError(t, m.AddConnection("backup", "10.0.0.6", 5556, false))

	// Runtime fields never persist; a fresh manager sees metadata only.
	m2 := New(dir)
	conns := m2.ListConnections()
	require.Len(t, conns, 2)
	for _, c := range conns {
		assert.False(t, c.Connected)
		assert.False(t, c.TLSActive)
	}
}

func TestRemoveConnectionClearsPin(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))
	require.NoError(t, m.TrustStore().Verify("10.0.0.5", 5555, []byte("cert")))

	require.NoError(t, m.RemoveConnection("nas"))
	assert.NotContains(t, m.TrustStore().Entries(), "10.0.0.5:5555")
	assert.ErrorContains(t, m.RemoveConnection("nas"), "not found")
}

// liveAgent wires a fake responding daemon into an agent record.
func liveAgent(t *testing.T, m *Manager, alias string) (*ipcclient.Client, *ipc.Conn) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	server := ipc.NewConn(serverEnd, "test")
	go func() {
		for {
			line, err := server.ReceiveLine()
			if err != nil {
				return
			}
			var req ipc.Request
			if json.Unmarshal(line, &req) == nil {
				_ = server.SendJSON(ipc.SuccessResponse(req.Meta.RequestID, "ok"))
			}
		}
	}()
	client := ipcclient.New(ipc.NewConn(clientEnd, "test"), nil, false)

	m.mu.Lock()
	a := m.agents[alias]
	a.client = client
	a.Connected = true
	m.mu.Unlock()
	return client, server
}

func TestSwitchActiveRequiresHealthyAgent(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))

	assert.ErrorContains(t, m.SwitchActive("nas", nil), "not connected")
	assert.ErrorContains(t, m.SwitchActive("ghost", nil), "not found")

	liveAgent(t, m, "nas")
	require.NoError(t, m.SwitchActive("nas", nil))
	assert.Equal(t, "nas", m.ActiveAlias())

	require.NoError(t, m.SwitchActive("local", nil))
	assert.Empty(t, m.ActiveAlias())
}

// No silent remote→local fallback: once the active remote dies, the
// selector raises RemoteAgentDisconnected instead of returning nil (local).
func TestDeadActiveAgentRaisesDisconnected(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))
	_, serverConn := liveAgent(t, m, "nas")
	require.NoError(t, m.SwitchActive("nas", nil))

	session := Session{"cc_active": "nas", "cc_connected_nas": true}

	// Healthy path first.
	client, err := m.GetActiveClient(session)
	require.NoError(t, err)
	require.NotNil(t, client)

	// Kill the remote; the reader observes EOF and the runtime dies.
	serverConn.Close()
	require.Eventually(t, func() bool { return !client.Healthy() }, 2*time.Second, 20*time.Millisecond)

	got, err := m.GetActiveClient(session)
	assert.Nil(t, got)
	var discErr *RemoteAgentDisconnectedError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "nas", discErr.Alias)

	// The selection and its session keys were cleared.
	assert.Empty(t, m.ActiveAlias())
	assert.NotContains(t, session, "cc_active")
	assert.NotContains(t, session, "cc_connected_nas")

	// Local selection is nil client, no error.
	got, err = m.GetActiveClient(session)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestListConnectionsRefreshesHealth(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.AddConnection("nas", "10.0.0.5", 5555, true))
	client, serverConn := liveAgent(t, m, "nas")

	conns := m.ListConnections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Connected)

	serverConn.Close()
	require.Eventually(t, func() bool { return !client.Healthy() }, 2*time.Second, 20*time.Millisecond)

	conns = m.ListConnections()
	require.Len(t, conns, 1)
	assert.False(t, conns[0].Connected)
}

func TestConnectToAgentUnknownAlias(t *testing.T) {
	m := New(t.TempDir())
	code, err := m.ConnectToAgent("ghost", "pw", nil)
	assert.Error(t, err)
	assert.Empty(t, code)
}
