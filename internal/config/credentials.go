// Package config manages the daemon's persisted stores: credentials,
// runtime settings, and the web layer's session key.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/util"
)

const (
	// PBKDF2Iterations for stored password hashes. Spec floor is 100000.
	PBKDF2Iterations = 260000
	PBKDF2SaltBytes  = 16
	pbkdf2KeyLen     = 32
	pbkdf2Alg        = "pbkdf2_sha256"

	// Agent auth key derivation uses a static application salt so the
	// client can derive the same key from the password alone; the salted
	// password hash stays the login verifier.
	AgentAuthSalt       = "zfdash-agent-auth-v2"
	AgentAuthIterations = 100000

	defaultUserID   = "1"
	defaultUsername = "admin"
	defaultPassword = "admin"
)

// PasswordInfo is the stored PBKDF2 verifier.
type PasswordInfo struct {
	Alg        string `json:"alg"`
	Salt       string `json:"salt"`
	Hash       string `json:"hash"`
	Iterations int    `json:"iterations"`
}

// UserRecord is one credential entry, keyed by user id in the store.
type UserRecord struct {
	Username     string       `json:"username"`
	PasswordInfo PasswordInfo `json:"password_info"`
	// AgentKey is the agent-auth derivation of the same password,
	// refreshed on every password change.
	AgentKey string `json:"agent_key,omitempty"`
}

// CredentialStore reads and writes the root-owned credentials file.
// Reads always hit the disk; writes are atomic under a store-wide lock.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

func NewCredentialStore(path string) *CredentialStore {
	if path == "" {
		path = paths.CredentialsFilePath()
	}
	return &CredentialStore{path: path}
}

// Read loads the full credentials map afresh. A missing file is an empty map.
func (s *CredentialStore) Read() (map[string]UserRecord, error) {
	creds := map[string]UserRecord{}
	err := util.ReadJSON(s.path, &creds)
	if os.IsNotExist(err) {
		return map[string]UserRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *CredentialStore) write(creds map[string]UserRecord) error {
	if err := os.MkdirAll(paths.PersistentDataDir, 0o755); err != nil && !os.IsExist(err) {
		log.Warnf("config: cannot create data dir: %v", err)
	}
	return util.WriteJSONAtomic(s.path, creds, 0o644)
}

// hashPassword produces a fresh PBKDF2 verifier and agent key.
func hashPassword(password string) (PasswordInfo, string, error) {
	salt := make([]byte, PBKDF2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return PasswordInfo{}, "", errors.Wrap(err, "generating salt")
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, pbkdf2KeyLen, sha256.New)
	info := PasswordInfo{
		Alg:        pbkdf2Alg,
		Salt:       hex.EncodeToString(salt),
		Hash:       hex.EncodeToString(key),
		Iterations: PBKDF2Iterations,
	}
	return info, hex.EncodeToString(DeriveAgentKey(password)), nil
}

// DeriveAgentKey computes the challenge-response key from the password and
// the static application salt. Client and server must agree byte-exactly.
func DeriveAgentKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(AgentAuthSalt), AgentAuthIterations, pbkdf2KeyLen, sha256.New)
}

// UpdatePassword replaces the verifier for username. The caller (web layer)
// has already checked the old password.
func (s *CredentialStore) UpdatePassword(username, newPassword string) error {
	if username == "" || newPassword == "" {
		return errors.New("username and new password are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.Read()
	if err != nil {
		return err
	}
	for id, rec := range creds {
		if rec.Username != username {
			continue
		}
		info, agentKey, err := hashPassword(newPassword)
		if err != nil {
			return err
		}
		rec.PasswordInfo = info
		rec.AgentKey = agentKey
		creds[id] = rec
		if err := s.write(creds); err != nil {
			return err
		}
		log.Infof("config: password updated for user %q", username)
		return nil
	}
	return errors.Errorf("user %q not found in credentials", username)
}

// CreateDefaultIfMissing provisions admin/admin on first daemon start.
func (s *CredentialStore) CreateDefaultIfMissing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	log.Warnf("config: credentials file missing at %s, creating default", s.path)
	info, agentKey, err := hashPassword(defaultPassword)
	if err != nil {
		return err
	}
	creds := map[string]UserRecord{
		defaultUserID: {Username: defaultUsername, PasswordInfo: info, AgentKey: agentKey},
	}
	if err := s.write(creds); err != nil {
		return err
	}
	log.Warn("config: default 'admin' password created; change it immediately")
	return nil
}

// VerifyPassword checks a login attempt against the stored verifier.
func (s *CredentialStore) VerifyPassword(username, password string) bool {
	creds, err := s.Read()
	if err != nil {
		return false
	}
	for _, rec := range creds {
		if rec.Username != username {
			continue
		}
		salt, err := hex.DecodeString(rec.PasswordInfo.Salt)
		if err != nil {
			return false
		}
		want, err := hex.DecodeString(rec.PasswordInfo.Hash)
		if err != nil {
			return false
		}
		iters := rec.PasswordInfo.Iterations
		if iters <= 0 {
			return false
		}
		got := pbkdf2.Key([]byte(password), salt, iters, len(want), sha256.New)
		return subtle.ConstantTimeCompare(got, want) == 1
	}
	return false
}

// AgentAuthKey returns the stored challenge-response key material for the
// primary account, for server-side handshake verification.
func (s *CredentialStore) AgentAuthKey() ([]byte, error) {
	creds, err := s.Read()
	if err != nil {
		return nil, err
	}
	rec, ok := creds[defaultUserID]
	if !ok {
		return nil, errors.New("no primary credential record")
	}
	if rec.AgentKey == "" {
		return nil, errors.New("credential record has no agent key; reset the password to provision one")
	}
	key, err := hex.DecodeString(rec.AgentKey)
	if err != nil {
		return nil, errors.Wrap(err, "decoding agent key")
	}
	return key, nil
}
