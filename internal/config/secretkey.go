package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/util"
)

// EnsureSecretKey provisions the web layer's session key file on first
// daemon start: 32 random bytes hex-encoded, root-owned, group-readable so
// the web process can load it.
func EnsureSecretKey(gid int) error {
	path := paths.SecretKeyFilePath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(paths.PersistentDataDir, 0o755); err != nil && !os.IsExist(err) {
		return errors.Wrap(err, "creating data dir")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return errors.Wrap(err, "generating secret key")
	}
	if err := util.WriteFileAtomic(path, []byte(hex.EncodeToString(raw)+"\n"), 0o640); err != nil {
		return err
	}
	if os.Geteuid() == 0 && gid >= 0 {
		if err := os.Chown(path, 0, gid); err != nil {
			log.Warnf("config: cannot set group on %s: %v", path, err)
		}
	}
	log.Infof("config: session key provisioned at %s", path)
	return nil
}
