package utils

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//go:embed configs
var defaultConfig embed.FS

type Config map[string]string

type ConfigManager struct {
	configsPath string
	configs     Config
	configMutex sync.RWMutex
}

// NewConfigManager loads the config file at path, writing the embedded
// defaults to the app config dir first when no file exists there yet.
func NewConfigManager(path string) *ConfigManager {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		if err := ensureConfig(); err != nil {
			panic(err)
		}
		paths := GetAppPaths("")
		path = filepath.Join(paths.ConfigDir, "configs")
	}

	file, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer file.Close()

	configs, err := parseConfigs(file)
	if err != nil {
		panic(err)
	}
	configs["file"] = path

	return &ConfigManager{
		configsPath: path,
		configs:     configs,
	}
}

// NewDefaultConfigManager returns a manager holding only the embedded defaults.
// Nothing is read from or written to disk.
func NewDefaultConfigManager() *ConfigManager {
	data, err := defaultConfig.ReadFile("configs/configs")
	if err != nil {
		panic(err)
	}

	configs, err := parseConfigs(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}

	return &ConfigManager{configs: configs}
}

func ensureConfig() error {
	paths := GetAppPaths("")
	configPath := filepath.Join(paths.ConfigDir, "configs")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := defaultConfig.ReadFile("configs/configs")
		if err != nil {
			return err
		}

		return os.WriteFile(configPath, data, 0644)
	}

	return nil
}

func parseConfigs(r io.Reader) (Config, error) {
	config := Config{}
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if equal := strings.Index(trimmed, "="); equal >= 0 {
				if key := strings.TrimSpace(trimmed[:equal]); len(key) > 0 {
					config[key] = strings.TrimSpace(trimmed[equal+1:])
				}
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (cm *ConfigManager) Path() string {
	return cm.configsPath
}

func (cm *ConfigManager) GetConfig(key string) (string, bool) {
	cm.configMutex.RLock()
	defer cm.configMutex.RUnlock()

	value, exists := cm.configs[key]
	return value, exists
}

// GetConfigWithDefault treats an empty value the same as a missing key
func (cm *ConfigManager) GetConfigWithDefault(key string, defaultValue string) string {
	if value, exists := cm.GetConfig(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetConfigDuration parses a duration string from config with default fallback
func (cm *ConfigManager) GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := cm.GetConfigWithDefault(key, defaultValue.String())
	duration, err := time.ParseDuration(valueStr)
	if err != nil || duration <= 0 {
		fmt.Printf("Invalid duration '%s' for key '%s', using default %v\n", valueStr, key, defaultValue)
		return defaultValue
	}
	return duration
}

// GetConfigInt parses an integer from config with validation
func (cm *ConfigManager) GetConfigInt(key string, defaultValue int, min int, max int) int {
	valueStr := cm.GetConfigWithDefault(key, strconv.Itoa(defaultValue))
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		fmt.Printf("Invalid integer '%s' for key '%s', using default %d\n", valueStr, key, defaultValue)
		return defaultValue
	}
	if value < min || value > max {
		fmt.Printf("Value %d for key '%s' out of range [%d, %d], using default %d\n", value, key, min, max, defaultValue)
		return defaultValue
	}
	return value
}

// GetConfigUint64 parses an unsigned integer from config with validation
func (cm *ConfigManager) GetConfigUint64(key string, defaultValue uint64, max uint64) uint64 {
	valueStr := cm.GetConfigWithDefault(key, strconv.FormatUint(defaultValue, 10))
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		fmt.Printf("Invalid uint64 '%s' for key '%s', using default %d\n", valueStr, key, defaultValue)
		return defaultValue
	}
	if value > max {
		fmt.Printf("Value %d for key '%s' above %d, using default %d\n", value, key, max, defaultValue)
		return defaultValue
	}
	return value
}

// GetConfigBool parses a boolean from config with default fallback
func (cm *ConfigManager) GetConfigBool(key string, defaultValue bool) bool {
	valueStr := cm.GetConfigWithDefault(key, strconv.FormatBool(defaultValue))

	switch strings.ToLower(strings.TrimSpace(valueStr)) {
	case "true", "yes", "1", "on", "enabled":
		return true
	case "false", "no", "0", "off", "disabled":
		return false
	default:
		fmt.Printf("Invalid boolean '%s' for key '%s', using default %v\n", valueStr, key, defaultValue)
		return defaultValue
	}
}

// SetConfig sets a configuration value at runtime
func (cm *ConfigManager) SetConfig(key string, value interface{}) {
	cm.configMutex.Lock()
	defer cm.configMutex.Unlock()

	var strValue string
	switch v := value.(type) {
	case string:
		strValue = v
	case bool:
		strValue = strconv.FormatBool(v)
	case int:
		strValue = strconv.Itoa(v)
	case int64:
		strValue = strconv.FormatInt(v, 10)
	case uint64:
		strValue = strconv.FormatUint(v, 10)
	case time.Duration:
		strValue = v.String()
	default:
		strValue = fmt.Sprintf("%v", v)
	}

	cm.configs[key] = strValue
}

// GetSecret returns the environment override for a secret, if any
func GetSecret(envKey string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(envKey))
	return value, value != ""
}
