package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
tools:
  nmap:
    image: docker.io/instrumentisto/nmap
    description: Port scanner
    privileged: true
  nikto:
    image: pincersec/nikto
    network: none
  openvpn:
    image: pincersec/openvpn
    service: true
    keep_alive: true
    privileged: true
  sqlmap:
    image: pincersec/sqlmap
    use_service: openvpn
  zap:
    endpoint: http://127.0.0.1:8090/mcp
    description: Local ZAP daemon
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())

	nmap, err := c.Lookup("nmap")
	require.NoError(t, err)
	assert.Equal(t, "nmap", nmap.Name)
	assert.Equal(t, "docker.io/instrumentisto/nmap", nmap.Image)
	assert.True(t, nmap.Privileged)

	vpn, err := c.Lookup("openvpn")
	require.NoError(t, err)
	assert.True(t, vpn.Service)
	assert.True(t, vpn.KeepAlive)

	sqlmap, err := c.Lookup("sqlmap")
	require.NoError(t, err)
	assert.Equal(t, "openvpn", sqlmap.UseService)

	zap, err := c.Lookup("zap")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8090/mcp", zap.Endpoint)
	assert.Empty(t, zap.Image)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.Lookup("nmap")
	var unknown *UnknownToolError
	assert.ErrorAs(t, err, &unknown)
}

func TestLoadCatalogRejectsEntryWithoutImageOrEndpoint(t *testing.T) {
	_, err := LoadCatalog(writeCatalog(t, "tools:\n  broken:\n    description: nothing here\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLookupSuggestion(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)

	_, err = c.Lookup("nmpa")
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nmap", unknown.Suggestion)
	assert.Contains(t, unknown.Error(), "did you mean")

	// Nothing remotely close: no suggestion offered
	_, err = c.Lookup("metasploit-framework")
	require.ErrorAs(t, err, &unknown)
	assert.Empty(t, unknown.Suggestion)
}

func TestToolsSorted(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)

	tools := c.Tools()
	require.Len(t, tools, 5)
	for i := 1; i < len(tools); i++ {
		assert.Less(t, tools[i-1].Name, tools[i].Name)
	}
}

func TestReloadKeepsPreviousOnParseError(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)
	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, 5, c.Len())

	require.NoError(t, os.WriteFile(path, []byte("tools: [not: a: map"), 0o644))
	require.Error(t, c.Reload())
	assert.Equal(t, 5, c.Len())
}

func TestWatchReloads(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)
	c, err := LoadCatalog(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	updated := testCatalogYAML + `
  masscan:
    image: pincersec/masscan
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		_, err := c.Lookup("masscan")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
