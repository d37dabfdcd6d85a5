package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTagMonotonicAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)

	t1, err := store.NextTag()
	require.NoError(t, err)
	t2, err := store.NextTag()
	require.NoError(t, err)
	assert.Equal(t, uint32(t1)+1, uint32(t2))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	t3, err := reopened.NextTag()
	require.NoError(t, err)
	assert.Equal(t, uint32(t2)+1, uint32(t3))
}

func TestHostRecordRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveHost(3, HostRecord{Addr: "10.0.0.5:9000", Role: "worker", Checksum: 0xDEAD}))
	require.NoError(t, store.SaveHost(4, HostRecord{Addr: "10.0.0.6:9000", Role: "server", Checksum: 0xBEEF}))

	hosts, err := store.LoadHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "10.0.0.5:9000", hosts[3].Addr)

	require.NoError(t, store.DeleteHost(3))
	hosts, err = store.LoadHosts()
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
	_, ok := hosts[3]
	assert.False(t, ok)
}
