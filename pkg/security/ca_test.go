package security

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/storage"
)

func newTestStore(t *testing.T) *storage.TagStore {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInitializeProducesCACert(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	require.NoError(t, ca.Initialize())
	assert.NotNil(t, ca.RootCertDER())
}

func TestLoadFromStoreRestoresInitializedCA(t *testing.T) {
	store := newTestStore(t)
	ca := NewCertAuthority(store)
	require.NoError(t, ca.Initialize())
	root := ca.RootCertDER()

	reloaded := NewCertAuthority(store)
	require.NoError(t, reloaded.LoadFromStore())
	assert.Equal(t, root, reloaded.RootCertDER())
}

func TestLoadFromStoreFailsWithoutPriorInitialize(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	assert.Error(t, ca.LoadFromStore())
}

func TestIssueHostCertIsSignedByRoot(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	require.NoError(t, ca.Initialize())

	cert, err := ca.IssueHostCert(7, "worker")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Contains(t, cert.Leaf.Subject.CommonName, "worker-7")

	roots := x509.NewCertPool()
	rootCert, err := x509.ParseCertificate(ca.RootCertDER())
	require.NoError(t, err)
	roots.AddCert(rootCert)

	_, err = cert.Leaf.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	})
	assert.NoError(t, err)
}

func TestIssueHostCertFailsBeforeInitialize(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	_, err := ca.IssueHostCert(1, "manager")
	assert.Error(t, err)
}
