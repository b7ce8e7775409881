package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/util"
)

// TrustEntry is one pinned server certificate.
type TrustEntry struct {
	Fingerprint  string `json:"fingerprint"`
	FirstSeen    string `json:"first_seen"`
	LastVerified string `json:"last_verified"`
}

// CertificateMismatchError reports a TOFU pin violation.
type CertificateMismatchError struct {
	HostPort string
	Stored   string
	Received string
}

func (e *CertificateMismatchError) Error() string {
	return fmt.Sprintf("certificate mismatch for %s: expected %.16s..., received %.16s... (possible MITM or certificate rotation)",
		e.HostPort, e.Stored, e.Received)
}

// TrustStore persists trust-on-first-use certificate pins. Reads always hit
// the disk; writes are atomic under a store-wide lock.
type TrustStore struct {
	path string
	mu   sync.Mutex
}

// NewTrustStore opens the store at path (trusted_certs.json).
func NewTrustStore(path string) *TrustStore {
	return &TrustStore{path: path}
}

func (s *TrustStore) load() map[string]TrustEntry {
	entries := map[string]TrustEntry{}
	if err := util.ReadJSON(s.path, &entries); err != nil && !os.IsNotExist(err) {
		log.Warnf("agent: unreadable trust store %s: %v", s.path, err)
		return map[string]TrustEntry{}
	}
	return entries
}

func (s *TrustStore) save(entries map[string]TrustEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return util.WriteJSONAtomic(s.path, entries, 0o600)
}

// Entries returns a snapshot of the store.
func (s *TrustStore) Entries() map[string]TrustEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Verify applies TOFU for the server certificate der presented by host:port.
// First sight pins it; a match refreshes last_verified; a mismatch returns
// CertificateMismatchError and leaves the store untouched.
func (s *TrustStore) Verify(host string, port int, der []byte) error {
	fingerprint := FingerprintDER(der)
	key := fmt.Sprintf("%s:%d", host, port)
	now := time.Now().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	entry, known := entries[key]
	if !known {
		log.Debugf("agent: first connection to %s, pinning %.16s...", key, fingerprint)
		entries[key] = TrustEntry{Fingerprint: fingerprint, FirstSeen: now, LastVerified: now}
		return s.save(entries)
	}
	if entry.Fingerprint != fingerprint {
		return &CertificateMismatchError{HostPort: key, Stored: entry.Fingerprint, Received: fingerprint}
	}
	entry.LastVerified = now
	entries[key] = entry
	return s.save(entries)
}

// Remove forgets the pin for host:port, for explicit operator-confirmed
// certificate changes and agent removal.
func (s *TrustStore) Remove(host string, port int) bool {
	key := fmt.Sprintf("%s:%d", host, port)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	if _, ok := entries[key]; !ok {
		return false
	}
	delete(entries, key)
	if err := s.save(entries); err != nil {
		log.Warnf("agent: error updating trust store: %v", err)
		return false
	}
	return true
}
