package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(file, []byte(`listen = "0.0.0.0:8080"`), 0o644))

	sc, err := Load(file, false)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", sc.Listen)
	assert.Equal(t, DefaultIdleTimeout, sc.IdleTimeout.Duration)
	assert.EqualValues(t, 1_000_000_000, sc.Cache.NumCounters)
	assert.Equal(t, defaultGraceHours, sc.GC.GracePeriod.Duration)
}

func TestLoadOverridesAndEnvExpansion(t *testing.T) {
	t.Setenv("GITHOST_DB_HOST", "db.internal")
	dir := t.TempDir()
	file := filepath.Join(dir, "server.toml")
	contents := `
listen = "127.0.0.1:9000"
idle_timeout = "10m"

[database]
name = "githost"
user = "root"
host = "${GITHOST_DB_HOST}"
port = 3306

[session_caps]
max_wants = 64
`
	require.NoError(t, os.WriteFile(file, []byte(contents), 0o644))

	sc, err := Load(file, true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", sc.Listen)
	assert.Equal(t, "db.internal", sc.Database.Host)
	assert.Equal(t, 64, sc.SessionCaps.MaxWants)

	caps := sc.SessionCapsValue()
	assert.Equal(t, 64, caps.MaxWants)
	assert.Equal(t, DefaultReadTimeout, sc.ReadTimeout.Duration)
}
