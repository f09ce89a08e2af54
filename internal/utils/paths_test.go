package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetAppPathsHomeOverride(t *testing.T) {
	home := filepath.Join(t.TempDir(), "autopay")
	t.Setenv(HomeEnv, home)

	paths := GetAppPaths("")

	if paths.ConfigDir != home || paths.DataDir != home {
		t.Errorf("Expected config and data under %s, got %+v", home, paths)
	}
	if paths.LogDir != filepath.Join(home, "logs") {
		t.Errorf("Expected logs under %s, got %s", home, paths.LogDir)
	}
	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.DataDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Expected %s to be created: %v", dir, err)
		}
	}

	if got := paths.GetDataPath("keystore.dat"); got != filepath.Join(home, "keystore.dat") {
		t.Errorf("Unexpected data path %s", got)
	}
	if got := paths.GetConfigPath("providers.yaml"); got != filepath.Join(home, "providers.yaml") {
		t.Errorf("Unexpected config path %s", got)
	}
}
