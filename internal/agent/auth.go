package agent

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/config"
	"github.com/zfdash/zfdash/internal/ipc"
)

const (
	// AuthTimeout bounds each read of the challenge-response exchange.
	AuthTimeout = 30 * time.Second
	nonceBytes  = 32

	AuthCodeFailed    = "AUTH_FAILED"
	AuthCodeTimeout   = "TIMEOUT"
	AuthCodeMalformed = "MALFORMED"
)

// AuthError reports a rejected authentication handshake.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string {
	switch e.Code {
	case AuthCodeFailed:
		return "authentication failed: bad credentials"
	case AuthCodeTimeout:
		return "authentication failed: handshake timed out"
	case AuthCodeMalformed:
		return "authentication failed: malformed handshake"
	}
	return "authentication failed: " + e.Code
}

type authChallenge struct {
	Nonce   string `json:"nonce"`
	Timeout int    `json:"timeout"`
}

type authResponse struct {
	Response string `json:"response"`
}

type authResult struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
}

// computeResponse is the shared HMAC: response = HMAC-SHA256(key, nonce).
func computeResponse(key, nonce []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// ServerAuthenticate runs the server side of the handshake on conn. key is
// the stored agent auth key for the primary account.
func ServerAuthenticate(conn *ipc.Conn, key []byte) error {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "generating nonce")
	}
	if err := conn.SendJSON(authChallenge{
		Nonce:   hex.EncodeToString(nonce),
		Timeout: int(AuthTimeout.Seconds()),
	}); err != nil {
		return err
	}

	var resp authResponse
	if err := conn.ReceiveJSON(&resp, AuthTimeout); err != nil {
		_ = conn.SendJSON(authResult{Status: "error", Code: AuthCodeTimeout})
		return &AuthError{Code: AuthCodeTimeout}
	}
	if resp.Response == "" {
		_ = conn.SendJSON(authResult{Status: "error", Code: AuthCodeMalformed})
		return &AuthError{Code: AuthCodeMalformed}
	}

	expected := computeResponse(key, nonce)
	if !hmac.Equal([]byte(expected), []byte(resp.Response)) {
		log.Warn("agent: authentication failed for incoming connection")
		_ = conn.SendJSON(authResult{Status: "error", Code: AuthCodeFailed})
		return &AuthError{Code: AuthCodeFailed}
	}
	return conn.SendJSON(authResult{Status: "ok"})
}

// ClientAuthenticate runs the client side of the handshake, deriving the
// key from the operator's password.
func ClientAuthenticate(conn *ipc.Conn, password string) error {
	var challenge authChallenge
	if err := conn.ReceiveJSON(&challenge, AuthTimeout); err != nil {
		return errors.Wrap(err, "reading auth challenge")
	}
	nonce, err := hex.DecodeString(challenge.Nonce)
	if err != nil || len(nonce) == 0 {
		return &AuthError{Code: AuthCodeMalformed}
	}

	key := config.DeriveAgentKey(password)
	if err := conn.SendJSON(authResponse{Response: computeResponse(key, nonce)}); err != nil {
		return err
	}

	var result authResult
	if err := conn.ReceiveJSON(&result, AuthTimeout); err != nil {
		return errors.Wrap(err, "reading auth result")
	}
	if result.Status != "ok" {
		code := result.Code
		if code == "" {
			code = AuthCodeFailed
		}
		return &AuthError{Code: code}
	}
	return nil
}
