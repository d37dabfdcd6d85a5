package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// CertDir returns the directory a host's certificate and the
// cluster's CA certificate are read from and written to, namespaced
// by role and host id so a manager and several workers sharing one
// machine don't collide.
func CertDir(base, role string, hostID uint32) string {
	return filepath.Join(base, fmt.Sprintf("%s-%d", role, hostID))
}

// SaveHostCert writes cert's leaf certificate and private key to
// dir/host.crt and dir/host.key, the same node.crt/node.key split the
// teacher's SaveCertToFile uses, so a process that already has a
// signed certificate from a previous run doesn't ask the CA again.
func SaveHostCert(cert *tls.Certificate, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("security: create cert dir: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(dir, "host.crt"), certPEM, 0600); err != nil {
		return fmt.Errorf("security: write host cert: %w", err)
	}
	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("security: host private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, "host.key"), keyPEM, 0600); err != nil {
		return fmt.Errorf("security: write host key: %w", err)
	}
	return nil
}

// LoadHostCert loads a certificate previously written by
// SaveHostCert.
func LoadHostCert(dir string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, "host.crt"), filepath.Join(dir, "host.key"))
	if err != nil {
		return nil, fmt.Errorf("security: load host cert: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("security: parse host cert: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// SaveCACert writes the cluster's root certificate to dir/ca.crt, the
// trust anchor every host loads to verify its peers.
func SaveCACert(rootDER []byte, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("security: create cert dir: %w", err)
	}
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})
	if err := os.WriteFile(filepath.Join(dir, "ca.crt"), caPEM, 0644); err != nil {
		return fmt.Errorf("security: write CA cert: %w", err)
	}
	return nil
}

// LoadCACert loads and parses the root certificate written by
// SaveCACert, returning a pool ready to hand to a tls.Config's
// ClientCAs/RootCAs.
func LoadCACert(dir string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("security: read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("security: CA cert at %s is not valid PEM", dir)
	}
	return pool, nil
}

// HasCert reports whether dir already holds a host certificate and
// trusted CA, so Bootstrap can skip re-issuing one on every restart.
func HasCert(dir string) bool {
	for _, name := range []string{"host.crt", "host.key", "ca.crt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}
