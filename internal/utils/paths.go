package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnv puts config, logs and data under one directory, overriding the
// per-OS locations
const HomeEnv = "AUTOPAY_HOME"

type AppPaths struct {
	ConfigDir string
	LogDir    string
	DataDir   string
}

// GetAppPaths returns the per-user directories of the app and creates them.
// A directory that cannot be created falls back to the working directory.
func GetAppPaths(appName string) *AppPaths {
	if appName == "" {
		appName = "x402-autopay"
	}

	paths := resolvePaths(appName)

	for _, dir := range []*string{&paths.ConfigDir, &paths.LogDir, &paths.DataDir} {
		if err := os.MkdirAll(*dir, 0755); err != nil {
			*dir = "."
		}
	}

	return paths
}

func resolvePaths(appName string) *AppPaths {
	if home := os.Getenv(HomeEnv); home != "" {
		return &AppPaths{
			ConfigDir: home,
			LogDir:    filepath.Join(home, "logs"),
			DataDir:   home,
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeDir, err = os.Getwd(); err != nil {
			homeDir = "."
		}
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		dir := filepath.Join(appData, appName)
		return &AppPaths{ConfigDir: dir, LogDir: filepath.Join(dir, "logs"), DataDir: dir}

	case "darwin":
		dir := filepath.Join(homeDir, "Library", "Application Support", appName)
		return &AppPaths{
			ConfigDir: dir,
			LogDir:    filepath.Join(homeDir, "Library", "Logs", appName),
			DataDir:   dir,
		}

	case "linux":
		// XDG base directories
		return &AppPaths{
			ConfigDir: filepath.Join(xdgDir("XDG_CONFIG_HOME", homeDir, ".config"), appName),
			LogDir:    filepath.Join(xdgDir("XDG_STATE_HOME", homeDir, ".local", "state"), appName, "logs"),
			DataDir:   filepath.Join(xdgDir("XDG_DATA_HOME", homeDir, ".local", "share"), appName),
		}

	default:
		dir := filepath.Join(homeDir, "."+appName)
		return &AppPaths{ConfigDir: dir, LogDir: dir, DataDir: dir}
	}
}

func xdgDir(env, homeDir string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	return filepath.Join(append([]string{homeDir}, fallback...)...)
}

// GetConfigPath returns the path to a file next to the config
func (ap *AppPaths) GetConfigPath(filename string) string {
	return filepath.Join(ap.ConfigDir, filename)
}

// GetDataPath returns the path to a file in the data dir
func (ap *AppPaths) GetDataPath(filename string) string {
	return filepath.Join(ap.DataDir, filename)
}
