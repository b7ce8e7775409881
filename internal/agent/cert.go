// Package agent implements the TCP transport's security layers: the
// self-signed certificate lifecycle, trust-on-first-use pinning, and the
// challenge-response authentication handshake.
package agent

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	certCommonName = "ZfDash Agent"
	certOrg        = "ZfDash"
	certValidity   = 10 * 365 * 24 * time.Hour
	certKeyBits    = 2048
)

// EnsureServerCertificate loads the agent keypair, generating a self-signed
// certificate on first start. The key file is written 0600, the cert 0644.
func EnsureServerCertificate(certPath, keyPath string) (tls.Certificate, error) {
	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			log.Debugf("agent: using existing certificate %s", certPath)
			return tls.LoadX509KeyPair(certPath, keyPath)
		}
	}
	log.Info("agent: generating new self-signed certificate")
	if err := generateSelfSigned(certPath, keyPath); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(certPath, keyPath)
}

func generateSelfSigned(certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil && !os.IsExist(err) {
		return errors.Wrap(err, "creating certificate dir")
	}

	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return errors.Wrap(err, "generating RSA key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errors.Wrap(err, "generating serial")
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   certCommonName,
			Organization: []string{certOrg},
		},
		NotBefore:   now,
		NotAfter:    now.Add(certValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return errors.Wrap(err, "creating certificate")
	}

	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "writing %s", certPath)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return errors.Wrap(err, "encoding certificate")
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "encoding key")
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "writing %s", keyPath)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return errors.Wrap(err, "encoding key")
	}
	return nil
}

// FingerprintDER is the hex SHA-256 of a certificate's DER encoding, the
// identity pinned by the trust store.
func FingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
