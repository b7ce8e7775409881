// Package paths centralizes filesystem path resolution.
//
// Runtime paths are resolved deterministically from the target UID and never
// from environment variables. XDG_RUNTIME_DIR is per-session: the daemon
// running as root and the client running as an unprivileged user would
// resolve different values and never meet on the same socket.
package paths

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const (
	// PersistentDataDir holds root-owned daemon state: credentials,
	// the web session key, and the agent TLS material.
	PersistentDataDir = "/opt/zfdash/data"

	CredentialsFileName = "credentials.json"
	SecretKeyFileName   = "flask_secret_key.txt"
	ServerCertFileName  = "server-cert.pem"
	ServerKeyFileName   = "server-key.pem"

	userConfigDirName = "ZfDash"

	SocketFileName    = "zfdash.sock"
	DaemonLogFileName = "zfdash-daemon.log"

	runtimeFallbackBase  = "/tmp"
	runtimePerUserPrefix = "zfdash-runtime-"
)

// CredentialsFilePath is the canonical root-owned credentials store.
func CredentialsFilePath() string {
	return filepath.Join(PersistentDataDir, CredentialsFileName)
}

// SecretKeyFilePath is the persisted web-layer session key.
func SecretKeyFilePath() string {
	return filepath.Join(PersistentDataDir, SecretKeyFileName)
}

// ServerCertPaths returns the agent certificate and key paths.
func ServerCertPaths() (certPath, keyPath string) {
	return filepath.Join(PersistentDataDir, ServerCertFileName),
		filepath.Join(PersistentDataDir, ServerKeyFileName)
}

// UserConfigDir is the per-user configuration directory
// (remote_agents.json, trusted_certs.json, config.json).
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".config", userConfigDirName)
}

// UserRuntimeDir returns the canonical runtime directory for uid.
//
// Resolution on Linux: /run/user/<uid>, then /var/run/user/<uid>, then a
// per-UID directory under /tmp created on demand. The same uid always
// resolves to the same path regardless of who asks.
func UserRuntimeDir(uid int) string {
	if uid < 0 {
		return runtimeFallbackBase
	}
	perUser := fmt.Sprintf("%s%d", runtimePerUserPrefix, uid)

	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{
			fmt.Sprintf("/run/user/%d", uid),
			fmt.Sprintf("/var/run/user/%d", uid),
		}
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		candidates = []string{fmt.Sprintf("/var/run/user/%d", uid)}
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.IsDir() {
			return c
		}
	}
	return makeFallbackRuntimeDir(runtimeFallbackBase, perUser, uid)
}

// SocketPath returns the daemon's Unix socket path for uid.
func SocketPath(uid int) string {
	return filepath.Join(UserRuntimeDir(uid), SocketFileName)
}

// DaemonLogPath returns the per-UID audit log path.
func DaemonLogPath(uid int) string {
	return filepath.Join(UserRuntimeDir(uid), DaemonLogFileName)
}

func makeFallbackRuntimeDir(base, subdir string, uid int) string {
	dir := filepath.Join(base, subdir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return base
	}
	if os.Geteuid() == 0 {
		// Best effort: the user must be able to reach their socket and log.
		_ = os.Chown(dir, uid, uid)
	}
	return dir
}

// FindExecutable locates name on PATH, falling back to the usual system
// directories that root's PATH sometimes lacks under escalation tools.
func FindExecutable(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	var dirs []string
	switch runtime.GOOS {
	case "darwin":
		dirs = []string{"/usr/local/bin", "/usr/local/sbin", "/opt/homebrew/bin", "/opt/homebrew/sbin", "/usr/bin", "/bin", "/sbin"}
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		dirs = []string{"/sbin", "/usr/sbin", "/usr/local/sbin", "/usr/local/bin", "/usr/bin", "/bin"}
	default:
		dirs = []string{"/usr/sbin", "/sbin", "/usr/bin", "/bin", "/usr/local/sbin", "/usr/local/bin"}
	}
	for _, d := range dirs {
		candidate := filepath.Join(d, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0 {
			return candidate
		}
	}
	return ""
}
