package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorLoader_Load_EmbeddedOnly(t *testing.T) {
	loader := newColorLoader(DefaultsFS())
	colors, err := loader.Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "0,255,0", colors.Pass, "pass color should be green (#00ff00)")
	assert.Equal(t, "255,0,0", colors.Fail, "fail color should be red (#ff0000)")
	assert.Equal(t, "230,200,79", colors.Skip, "skip color should be yellow (#e6c84f)")
	assert.Equal(t, "255,197,109", colors.Warn, "warn color should be orange (#ffc56d)")
	assert.Equal(t, "210,82,82", colors.Error, "error color should be muted red (#d25252)")
	assert.Equal(t, "138,138,138", colors.Timestamp)
	assert.Equal(t, "180,180,180", colors.Info)
}

func TestColorLoader_Load_LocalOverridesGlobal(t *testing.T) {
	tmpDir := t.TempDir()
	globalConfig := filepath.Join(tmpDir, "global-config")
	localConfig := filepath.Join(tmpDir, "local-config")

	require.NoError(t, os.WriteFile(globalConfig, []byte("color_pass = #ff0000\ncolor_error = #00ff00\n"), 0o600))
	require.NoError(t, os.WriteFile(localConfig, []byte("color_pass = #0000ff\n"), 0o600))

	loader := newColorLoader(DefaultsFS())
	colors, err := loader.Load(localConfig, globalConfig)
	require.NoError(t, err)

	assert.Equal(t, "0,0,255", colors.Pass, "local overrides global")
	assert.Equal(t, "0,255,0", colors.Error, "global kept when local is silent")
	assert.Equal(t, "255,0,0", colors.Fail, "embedded kept when nobody overrides")
}

func TestColorLoader_Load_InvalidColor(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := filepath.Join(tmpDir, "config")
	require.NoError(t, os.WriteFile(cfg, []byte("color_fail = red\n"), 0o600))

	_, err := newColorLoader(DefaultsFS()).Load(cfg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid color_fail")
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		r, g, b int
		wantErr string
	}{
		{name: "red", hex: "#ff0000", r: 255},
		{name: "mixed case", hex: "#00FfA0", g: 255, b: 160},
		{name: "no hash", hex: "ff0000", wantErr: "must start with #"},
		{name: "short", hex: "#fff", wantErr: "must be 7 characters"},
		{name: "not hex", hex: "#gg0000", wantErr: "invalid hex color"},
		{name: "empty", hex: "", wantErr: "must start with #"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, g, b, err := parseHexColor(tc.hex)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tc.r, tc.g, tc.b}, []int{r, g, b})
		})
	}
}

func TestColorConfig_mergeFrom(t *testing.T) {
	dst := ColorConfig{Pass: "1,1,1", Fail: "2,2,2"}
	dst.mergeFrom(&ColorConfig{Fail: "3,3,3", Info: "4,4,4"})
	assert.Equal(t, ColorConfig{Pass: "1,1,1", Fail: "3,3,3", Info: "4,4,4"}, dst)
}
