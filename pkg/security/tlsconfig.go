package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ServerTLSConfig builds the tls.Config a transport.Listener presents
// to connecting peers: it offers cert and requires (and verifies) the
// peer's own certificate against caPool, so an unsigned socket never
// reaches transport's host_allocated/host_authorized handshake - mTLS
// happens below the wire protocol, not as part of it.
func ServerTLSConfig(cert *tls.Certificate, caPool *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig builds the tls.Config a Dial presents to the peer
// it is connecting to: its own certificate, plus caPool as the root
// it trusts the peer's certificate against.
func ClientTLSConfig(cert *tls.Certificate, caPool *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS13,
	}
}

// Bootstrap returns the host certificate and CA pool a manager or
// worker needs to run mTLS, from certDir. Three cases, matching the
// teacher's own node bootstrap flow:
//
//   - certDir already holds a host cert, its key and ca.crt (HasCert):
//     load them from disk, no CA contact needed.
//   - otherwise, with ca non-nil (this process owns the root key, i.e.
//     it is the manager) and a root already persisted in ca's store
//     (LoadFromStore succeeds): issue a leaf certificate from that
//     root and write it and ca.crt to certDir.
//   - otherwise, with ca non-nil and no root in its store: Initialize
//     a brand new CA, issue this host's own leaf certificate, and
//     write the CA root alongside it so other hosts can be handed
//     ca.crt out of band.
//
// Without all three files in certDir and with ca == nil, Bootstrap
// returns an error: the process (ordinarily a worker) has not been
// provisioned with its certificate yet.
func Bootstrap(ca *CertAuthority, certDir string, hostID uint32, role string) (*tls.Certificate, *x509.CertPool, error) {
	if HasCert(certDir) {
		cert, err := LoadHostCert(certDir)
		if err != nil {
			return nil, nil, err
		}
		pool, err := LoadCACert(certDir)
		if err != nil {
			return nil, nil, err
		}
		return cert, pool, nil
	}

	if ca == nil {
		return nil, nil, fmt.Errorf("security: %s has no certificate in %s and no CA to request one from", role, certDir)
	}

	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("security: initialize CA: %w", err)
		}
	}

	cert, err := ca.IssueHostCert(hostID, role)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveHostCert(cert, certDir); err != nil {
		return nil, nil, err
	}
	if err := SaveCACert(ca.RootCertDER(), certDir); err != nil {
		return nil, nil, err
	}
	pool, err := LoadCACert(certDir)
	if err != nil {
		return nil, nil, err
	}
	return cert, pool, nil
}
