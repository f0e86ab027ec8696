package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyrange/vplan/internal/ir"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, ir.Fixed(4), c.VF())
	require.Equal(t, 1, c.Vectorize.Unroll)
	require.Equal(t, "auto", c.Output.Color)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`version: 1
vectorize:
  width: 2
  scalable: true
  unroll: 3
  profileDebugInfo: true
log:
  level: debug
output:
  color: never
`))
	require.NoError(t, err)
	require.Equal(t, ir.Scalable(2), c.VF())
	require.Equal(t, 3, c.Vectorize.Unroll)
	require.True(t, c.Vectorize.ProfileDebugInfo)
	lvl, err := c.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, in := range []string{
		"version: 2\n",
		"vectorize:\n  width: -1\n",
		"vectorize:\n  unroll: -2\n",
		"log:\n  level: loud\n",
		"output:\n  color: sometimes\n",
		"vectorize: [",
	} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) succeeded", in)
		}
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", DefaultFilename)
	in := Config{Vectorize: VectorizeConfig{Width: 8, Unroll: 2, NativePath: true}}
	require.NoError(t, Write(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "nativePath: true")

	out, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, out.Vectorize.Width)
	require.Equal(t, 2, out.Vectorize.Unroll)
	require.True(t, out.Vectorize.NativePath)
	require.Equal(t, "info", out.Log.Level)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
