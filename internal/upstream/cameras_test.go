package upstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCamerasFile(t *testing.T) {
	path := writeFile(t, `
cameras:
  - id: cam-1
    name: Front Door
    type: G4 Doorbell
    location: Entrance
  - id: cam-2
`)
	cams, err := LoadCamerasFile(path)
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, "Entrance", cams[0].Location)
	assert.Equal(t, "cam-2", cams[1].Name, "name defaults to id")
}

func TestLoadCamerasFileErrors(t *testing.T) {
	cases := map[string]string{
		"missing id": "cameras:\n  - name: Porch\n",
		"duplicate":  "cameras:\n  - id: a\n  - id: a\n",
		"empty":      "cameras: []\n",
		"bad yaml":   "cameras: [\n",
	}
	for name, body := range cases {
		if _, err := LoadCamerasFile(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadCamerasFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultCamerasIsCopy(t *testing.T) {
	a := DefaultCameras()
	a[0].Name = "changed"
	assert.NotEqual(t, "changed", DefaultCameras()[0].Name)
}
