package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/codewave-dev/codewave/pkg/types"
	"github.com/tidwall/jsonc"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/codewave/)
// 2. Project config (codewave.json[c] in the working directory)
// 3. CODEWAVE_CONFIG file
// 4. CODEWAVE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "codewave.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "codewave.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "codewave.json"), directory)
		loadOnce(filepath.Join(directory, "codewave.jsonc"), directory)
	}

	// 3. CODEWAVE_CONFIG file override
	if configPath := os.Getenv("CODEWAVE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. CODEWAVE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("CODEWAVE_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	if config.DataDir == "" {
		config.DataDir = GetPaths().Data
	}

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogPretty {
		target.LogPretty = true
	}
	if source.Server != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if source.Server.Port != 0 {
			target.Server.Port = source.Server.Port
		}
		if source.Server.Hostname != "" {
			target.Server.Hostname = source.Server.Hostname
		}
		if source.Server.EnableCORS != nil {
			target.Server.EnableCORS = source.Server.EnableCORS
		}
	}
	if source.Sync != nil {
		target.Sync = source.Sync
	}
	if source.Queue != nil {
		if target.Queue == nil {
			target.Queue = &types.QueueConfig{}
		}
		if source.Queue.VisibilityTimeoutSec != 0 {
			target.Queue.VisibilityTimeoutSec = source.Queue.VisibilityTimeoutSec
		}
		if source.Queue.LongPollSec != 0 {
			target.Queue.LongPollSec = source.Queue.LongPollSec
		}
	}
	if source.Worker != nil {
		if target.Worker == nil {
			target.Worker = &types.WorkerConfig{}
		}
		if source.Worker.Backend != "" {
			target.Worker.Backend = source.Worker.Backend
		}
		if source.Worker.CommandTimeoutSec != 0 {
			target.Worker.CommandTimeoutSec = source.Worker.CommandTimeoutSec
		}
		if source.Worker.IdleTimeoutSec != 0 {
			target.Worker.IdleTimeoutSec = source.Worker.IdleTimeoutSec
		}
		if source.Worker.ExitAfterIdlePolls != 0 {
			target.Worker.ExitAfterIdlePolls = source.Worker.ExitAfterIdlePolls
		}
		if source.Worker.WorkspaceDir != "" {
			target.Worker.WorkspaceDir = source.Worker.WorkspaceDir
		}
	}
	if source.Orchestrator != nil {
		if target.Orchestrator == nil {
			target.Orchestrator = &types.OrchestratorConfig{}
		}
		if source.Orchestrator.MinWorkers != 0 {
			target.Orchestrator.MinWorkers = source.Orchestrator.MinWorkers
		}
		if source.Orchestrator.MaxWorkers != 0 {
			target.Orchestrator.MaxWorkers = source.Orchestrator.MaxWorkers
		}
		if source.Orchestrator.MessagesPerWorker != 0 {
			target.Orchestrator.MessagesPerWorker = source.Orchestrator.MessagesPerWorker
		}
		if source.Orchestrator.PollIntervalSec != 0 {
			target.Orchestrator.PollIntervalSec = source.Orchestrator.PollIntervalSec
		}
	}
	if source.Workspace != nil {
		target.Workspace = source.Workspace
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if dataDir := os.Getenv("CODEWAVE_DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}
	if level := os.Getenv("CODEWAVE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if backend := os.Getenv("CODEWAVE_WORKER_BACKEND"); backend != "" {
		if config.Worker == nil {
			config.Worker = &types.WorkerConfig{}
		}
		config.Worker.Backend = backend
	}
	if port := os.Getenv("CODEWAVE_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			if config.Server == nil {
				config.Server = &types.ServerConfig{}
			}
			config.Server.Port = n
		}
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
