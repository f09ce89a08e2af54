package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

type LogsManager struct {
	cm          *ConfigManager
	dir         string
	logFileName string
	logger      *log.Logger
	File        *os.File
	out         io.Writer
	mutex       sync.RWMutex
}

// NewLogsManager writes JSON log lines to the configured log file in the app log dir
func NewLogsManager(cm *ConfigManager) *LogsManager {
	paths := GetAppPaths("")

	lm := &LogsManager{
		cm:          cm,
		dir:         paths.LogDir,
		logFileName: cm.GetConfigWithDefault("logfile", "x402-autopay.log"),
		logger:      log.New(),
	}

	if err := lm.openLogFile(); err != nil {
		panic(err)
	}
	lm.configure()

	return lm
}

// NewLogsManagerWithWriter logs to w instead of a file
func NewLogsManagerWithWriter(cm *ConfigManager, w io.Writer) *LogsManager {
	lm := &LogsManager{
		cm:     cm,
		logger: log.New(),
		out:    w,
	}
	lm.configure()

	return lm
}

func (lm *LogsManager) openLogFile() error {
	path := filepath.Join(lm.dir, filepath.FromSlash(lm.logFileName))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}

	lm.File = file
	lm.out = file

	return nil
}

func (lm *LogsManager) configure() {
	logLevel := lm.cm.GetConfigWithDefault("log_level", "info")
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", logLevel)
		level = log.InfoLevel
	}
	lm.logger.SetLevel(level)
	lm.logger.SetOutput(lm.out)
	lm.logger.SetFormatter(&log.JSONFormatter{})
}

func (lm *LogsManager) fileInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "<???>"
		line = 1
	} else if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (lm *LogsManager) Log(level string, message string, category string) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	// closed during shutdown
	if lm.out == nil {
		return
	}

	entry := lm.logger.WithFields(log.Fields{
		"category": category,
		"file":     lm.fileInfo(3),
	})

	switch level {
	case "trace":
		entry.Trace(message)
	case "debug":
		entry.Debug(message)
	case "warn":
		entry.Warn(message)
	case "error":
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

func (lm *LogsManager) Debug(message string, category string) {
	lm.Log("debug", message, category)
}

func (lm *LogsManager) Info(message string, category string) {
	lm.Log("info", message, category)
}

func (lm *LogsManager) Warn(message string, category string) {
	lm.Log("warn", message, category)
}

func (lm *LogsManager) Error(message string, category string) {
	lm.Log("error", message, category)
}

// Close closes the log file - call this when shutting down
func (lm *LogsManager) Close() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.out = nil
	if lm.File != nil {
		err := lm.File.Close()
		lm.File = nil
		return err
	}

	return nil
}
