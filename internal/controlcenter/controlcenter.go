// Package controlcenter keeps the registry of remote ZFS agents: persisted
// connection metadata, the active selection, and health validation.
package controlcenter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/agent"
	"github.com/zfdash/zfdash/internal/ipc"
	"github.com/zfdash/zfdash/internal/ipcclient"
	"github.com/zfdash/zfdash/internal/util"
)

const agentsFileName = "remote_agents.json"

var aliasRe = regexp.MustCompile(`^[^/\x00]+$`)

// RemoteAgentDisconnectedError signals that the active remote runtime is
// dead. Callers must surface it; substituting the local daemon silently is
// forbidden.
type RemoteAgentDisconnectedError struct {
	Alias string
}

func (e *RemoteAgentDisconnectedError) Error() string {
	return fmt.Sprintf("remote agent %q is disconnected; reconnect or switch to local", e.Alias)
}

// Session is the web layer's session bag; connection state keys are cleared
// when the associated agent dies.
type Session map[string]interface{}

// persistedAgent is the on-disk record shape. Runtime state never persists.
type persistedAgent struct {
	Alias         string `json:"alias"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	UseTLS        bool   `json:"use_tls"`
	LastConnected string `json:"last_connected,omitempty"`
}

// Agent is one remote connection with its runtime state.
type Agent struct {
	Alias         string `json:"alias"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	UseTLS        bool   `json:"use_tls"`
	LastConnected string `json:"last_connected,omitempty"`

	Connected bool   `json:"connected"`
	TLSActive bool   `json:"tls_active"`
	LastError string `json:"last_error,omitempty"`

	client *ipcclient.Client
}

// Manager is the control center. All access is serialized by its mutex.
type Manager struct {
	mu          sync.Mutex
	storagePath string
	trust       *agent.TrustStore
	agents      map[string]*Agent
	activeAlias string
}

// New loads the registry persisted under configDir.
func New(configDir string) *Manager {
	m := &Manager{
		storagePath: filepath.Join(configDir, agentsFileName),
		trust:       agent.NewTrustStore(filepath.Join(configDir, "trusted_certs.json")),
		agents:      map[string]*Agent{},
	}
	m.load()
	return m
}

// TrustStore exposes the TOFU pin store shared with the agent dialer.
func (m *Manager) TrustStore() *agent.TrustStore { return m.trust }

func (m *Manager) load() {
	var records []persistedAgent
	if err := util.ReadJSON(m.storagePath, &records); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("controlcenter: unreadable agent registry: %v", err)
		}
		return
	}
	for _, rec := range records {
		m.agents[rec.Alias] = &Agent{
			Alias:         rec.Alias,
			Host:          rec.Host,
			Port:          rec.Port,
			UseTLS:        rec.UseTLS,
			LastConnected: rec.LastConnected,
		}
	}
}

// save persists the metadata under the caller-held lock.
func (m *Manager) save() error {
	records := make([]persistedAgent, 0, len(m.agents))
	for _, a := range m.agents {
		records = append(records, persistedAgent{
			Alias:         a.Alias,
			Host:          a.Host,
			Port:          a.Port,
			UseTLS:        a.UseTLS,
			LastConnected: a.LastConnected,
		})
	}
	if err := os.MkdirAll(filepath.Dir(m.storagePath), 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return util.WriteJSONAtomic(m.storagePath, records, 0o600)
}

// AddConnection validates and persists a new agent record.
func (m *Manager) AddConnection(alias, host string, port int, useTLS bool) error {
	if alias == "" || !aliasRe.MatchString(alias) {
		return errors.Errorf("invalid alias %q", alias)
	}
	if host == "" {
		return errors.New("host cannot be empty")
	}
	if port < 1 || port > 65535 {
		return errors.Errorf("invalid port number: %d", port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[alias]; exists {
		return errors.Errorf("connection with alias %q already exists", alias)
	}
	m.agents[alias] = &Agent{Alias: alias, Host: host, Port: port, UseTLS: useTLS}
	return m.save()
}

// RemoveConnection closes any live client, forgets the certificate pin for
// the agent's endpoint, and drops the persisted record.
func (m *Manager) RemoveConnection(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[alias]
	if !ok {
		return errors.Errorf("connection %q not found", alias)
	}
	if a.client != nil {
		a.client.Close()
	}
	if m.trust.Remove(a.Host, a.Port) {
		log.Debugf("controlcenter: cleared trusted certificate for %s:%d", a.Host, a.Port)
	}
	if m.activeAlias == alias {
		m.activeAlias = ""
	}
	delete(m.agents, alias)
	return m.save()
}

// ConnectToAgent opens an authenticated runtime to alias using its saved
// TLS preference. On TLS negotiation failure the returned code lets the UI
// distinguish "server requires TLS" from "server has no TLS" from auth
// failure.
func (m *Manager) ConnectToAgent(alias, password string, session Session) (tlsErrorCode string, err error) {
	m.mu.Lock()
	a, ok := m.agents[alias]
	if !ok {
		m.mu.Unlock()
		return "", errors.Errorf("connection %q not found", alias)
	}
	if a.client != nil {
		a.client.Close()
		a.client = nil
		a.Connected = false
	}
	host, port, useTLS := a.Host, a.Port, a.UseTLS
	m.mu.Unlock()

	conn, tlsActive, err := agent.Dial(host, port, password, useTLS, m.trust, 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		a.LastError = err.Error()
		var negErr *ipc.NegotiationError
		if errors.As(err, &negErr) {
			return negErr.Code, err
		}
		return "", err
	}
	if err := ipcclient.WaitReady(conn, ipcclient.ReadyTimeout); err != nil {
		conn.Close()
		a.LastError = err.Error()
		return "", err
	}

	a.client = ipcclient.New(conn, nil, false)
	a.Connected = true
	a.TLSActive = tlsActive
	a.LastError = ""
	a.LastConnected = time.Now().Format(time.RFC3339)
	if session != nil {
		session["cc_connected_"+alias] = true
	}
	if err := m.save(); err != nil {
		log.Warnf("controlcenter: persisting registry: %v", err)
	}
	if !tlsActive {
		log.Warnf("controlcenter: connection to %q is NOT encrypted", alias)
	}
	return "", nil
}

// SwitchActive selects the active alias; "local" clears the remote
// selection.
func (m *Manager) SwitchActive(alias string, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alias == "local" || alias == "" {
		m.activeAlias = ""
		return nil
	}
	a, ok := m.agents[alias]
	if !ok {
		return errors.Errorf("connection %q not found", alias)
	}
	if a.client == nil || !a.client.Healthy() {
		return errors.Errorf("agent %q is not connected", alias)
	}
	m.activeAlias = alias
	if session != nil {
		session["cc_active"] = alias
	}
	return nil
}

// IsHealthyOrClear is the sole source of truth for the active selection: a
// dead runtime clears the active alias and its session keys, and reports
// unhealthy. The second return is the (possibly cleared) active alias.
func (m *Manager) IsHealthyOrClear(session Session) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeAlias == "" {
		return true, ""
	}
	a := m.agents[m.activeAlias]
	if a != nil && a.client != nil && a.client.Healthy() {
		return true, m.activeAlias
	}

	alias := m.activeAlias
	log.Warnf("controlcenter: active agent %q is dead, clearing selection", alias)
	if a != nil {
		a.Connected = false
		if a.client != nil {
			if err := a.client.LastError(); err != nil {
				a.LastError = err.Error()
			}
			a.client = nil
		}
	}
	m.activeAlias = ""
	if session != nil {
		delete(session, "cc_active")
		delete(session, "cc_connected_"+alias)
	}
	return false, ""
}

// GetActiveClient returns the healthy active remote runtime, nil when the
// selection is local, or RemoteAgentDisconnectedError when the active
// remote is dead. Callers must propagate that error, never fall back to the
// local daemon.
func (m *Manager) GetActiveClient(session Session) (*ipcclient.Client, error) {
	m.mu.Lock()
	alias := m.activeAlias
	m.mu.Unlock()
	if alias == "" {
		return nil, nil
	}

	healthy, _ := m.IsHealthyOrClear(session)
	if !healthy {
		return nil, &RemoteAgentDisconnectedError{Alias: alias}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeAlias == "" {
		return nil, &RemoteAgentDisconnectedError{Alias: alias}
	}
	return m.agents[m.activeAlias].client, nil
}

// ListConnections snapshots every record, refreshing each live client's
// health first.
func (m *Manager) ListConnections() []Agent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if a.client != nil && !a.client.Healthy() {
			a.Connected = false
			if err := a.client.LastError(); err != nil {
				a.LastError = err.Error()
			}
			a.client = nil
		}
		snapshot := *a
		snapshot.client = nil
		out = append(out, snapshot)
	}
	return out
}

// ActiveAlias returns the current remote selection ("" means local).
func (m *Manager) ActiveAlias() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeAlias
}
