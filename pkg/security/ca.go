package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CertAuthority is the manager's own certificate authority: one root
// key, generated once and persisted through caStore, that signs a
// leaf certificate for every host (manager, worker, or server) that
// joins the render. It is grounded on the teacher's pkg/security CA,
// trimmed to what RayField's host-identity model needs - no
// per-client certificate kind, since every RayField peer is a host in
// the same sense regardless of transport.Role.
type CertAuthority struct {
	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	store    caStore
}

// caStore is the subset of *storage.TagStore the CA needs to persist
// its root across restarts. Declared locally so pkg/security does not
// import pkg/storage's tag-allocation surface, only the two methods
// it actually calls.
type caStore interface {
	SaveCA(data []byte) error
	LoadCA() (data []byte, ok bool, err error)
}

// caData is the JSON-serialized form of a CertAuthority's root,
// mirroring the teacher's CAData.
type caData struct {
	RootCertDER []byte
	RootKeyDER  []byte
}

const (
	// Root validity: long enough that a render cluster's manager never
	// has to reissue it across a normal deployment lifetime.
	rootValidity = 10 * 365 * 24 * time.Hour
	// Host leaf validity: short enough that a host that leaves the
	// cluster and never reconnects can't present a credential forever.
	hostCertValidity = 90 * 24 * time.Hour
	rootKeyBits      = 4096
	hostKeyBits      = 2048
)

// NewCertAuthority creates a CA backed by store. Callers must follow
// with either Initialize (fresh deployment) or LoadFromStore (a
// manager that has run before) before IssueHostCert will work.
func NewCertAuthority(store caStore) *CertAuthority {
	return &CertAuthority{store: store}
}

// Initialize generates a brand-new root key and self-signed
// certificate and persists it through the store, for a manager
// starting against an empty data directory.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return fmt.Errorf("security: generate root key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("security: generate root serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"RayField Render Cluster"},
			CommonName:   "RayField Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("security: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return ca.saveLocked()
}

// LoadFromStore restores a previously Initialize'd root from the
// store, for a manager restarting against a data directory that
// already has one.
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, ok, err := ca.store.LoadCA()
	if err != nil {
		return fmt.Errorf("security: load CA: %w", err)
	}
	if !ok {
		return fmt.Errorf("security: no CA persisted yet")
	}
	var data caData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("security: unmarshal CA: %w", err)
	}
	rootCert, err := x509.ParseCertificate(data.RootCertDER)
	if err != nil {
		return fmt.Errorf("security: parse root certificate: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(data.RootKeyDER)
	if err != nil {
		return fmt.Errorf("security: parse root key: %w", err)
	}
	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

func (ca *CertAuthority) saveLocked() error {
	data := caData{
		RootCertDER: ca.rootCert.Raw,
		RootKeyDER:  x509.MarshalPKCS1PrivateKey(ca.rootKey),
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("security: marshal CA: %w", err)
	}
	return ca.store.SaveCA(raw)
}

// IssueHostCert signs a leaf certificate identifying hostID in its
// role (manager/worker/server, spec.md §4.3), suitable for both
// presenting as a TLS server certificate (listening for peers) and a
// TLS client certificate (dialing a peer) - RayField connections are
// mutually authenticated in both directions, so one cert per host
// serves either end.
func (ca *CertAuthority) IssueHostCert(hostID uint32, role string) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("security: CA not initialized")
	}

	hostKey, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("security: generate host key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("security: generate host serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"RayField Render Cluster"},
			CommonName:   fmt.Sprintf("%s-%d", role, hostID),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(hostCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &hostKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("security: sign host certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("security: parse host certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  hostKey,
		Leaf:        leaf,
	}, nil
}

// RootCertDER returns the root CA certificate in DER form, the blob
// every other host saves as its trust anchor via SaveCACert.
func (ca *CertAuthority) RootCertDER() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}
