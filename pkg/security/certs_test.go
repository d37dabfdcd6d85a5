package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadHostCertRoundTrip(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	require.NoError(t, ca.Initialize())
	cert, err := ca.IssueHostCert(1, "manager")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, SaveHostCert(cert, dir))
	require.NoError(t, SaveCACert(ca.RootCertDER(), dir))
	assert.True(t, HasCert(dir))

	loaded, err := LoadHostCert(dir)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)

	pool, err := LoadCACert(dir)
	require.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestHasCertFalseForEmptyDir(t *testing.T) {
	assert.False(t, HasCert(t.TempDir()))
}

func TestBootstrapIssuesThenReusesCert(t *testing.T) {
	ca := NewCertAuthority(newTestStore(t))
	dir := filepath.Join(t.TempDir(), "manager-0")

	cert1, pool1, err := Bootstrap(ca, dir, 0, "manager")
	require.NoError(t, err)
	require.NotNil(t, cert1)
	require.NotNil(t, pool1)
	assert.True(t, HasCert(dir))

	// A second Bootstrap against the same dir must load the
	// already-issued cert rather than asking the CA again.
	cert2, _, err := Bootstrap(ca, dir, 0, "manager")
	require.NoError(t, err)
	assert.Equal(t, cert1.Leaf.SerialNumber, cert2.Leaf.SerialNumber)
}

func TestBootstrapFailsWithoutCertOrCA(t *testing.T) {
	_, _, err := Bootstrap(nil, t.TempDir(), 3, "worker")
	assert.Error(t, err)
}
