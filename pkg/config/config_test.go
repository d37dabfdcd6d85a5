package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, cfg.AutoThreads)
	assert.False(t, cfg.Distributed)
}

func TestParseSingleTileExample(t *testing.T) {
	cfg, err := Parse(strings.NewReader("nthreads 1\ndistributed off\n"))
	require.NoError(t, err)
	assert.False(t, cfg.AutoThreads)
	assert.Equal(t, 1, cfg.NThreads)
	assert.False(t, cfg.Distributed)
}

func TestParseRepeatableDirectives(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
distributed on
server 10.0.0.1:7755
server 10.0.0.2:7755
searchpath /opt/rayfield/plugins
searchpath /usr/local/rayfield/plugins
port 9090
maxclients 32
memlimit 2048
`))
	require.NoError(t, err)
	assert.True(t, cfg.Distributed)
	assert.Equal(t, []string{"10.0.0.1:7755", "10.0.0.2:7755"}, cfg.Servers)
	assert.Equal(t, []string{"/opt/rayfield/plugins", "/usr/local/rayfield/plugins"}, cfg.SearchPaths)
	assert.Equal(t, uint16(9090), cfg.Port)
	assert.Equal(t, 32, cfg.MaxClients)
	assert.Equal(t, 2048, cfg.MemLimitMiB)
	assert.Equal(t, 2048<<20, cfg.MemLimitBytes())
}

func TestParseHashIsNotAComment(t *testing.T) {
	_, err := Parse(strings.NewReader("# this looks like a comment\n"))
	assert.Error(t, err)
}

func TestParseUnknownDirective(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus value\n"))
	assert.Error(t, err)
}

func TestParseInvalidOnOff(t *testing.T) {
	_, err := Parse(strings.NewReader("distributed sideways\n"))
	assert.Error(t, err)
}
