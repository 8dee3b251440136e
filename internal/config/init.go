package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/temirov/ctxload/internal/utils"
)

// InitTarget identifies where configuration should be initialized.
type InitTarget string

const (
	// InitTargetLocal writes .ctxload.yaml into the working directory.
	InitTargetLocal InitTarget = "local"
	// InitTargetGlobal writes config.yaml under ~/.ctxload.
	InitTargetGlobal InitTarget = "global"

	configurationFilePermissions = 0o600
)

// InitOptions controls how configuration initialization behaves.
type InitOptions struct {
	Target           InitTarget
	Force            bool
	WorkingDirectory string
}

// defaultSettings lists every configuration key with the value used when the
// key is absent, so an initialized file documents the whole surface.
func defaultSettings() map[string]any {
	return map[string]any{
		"estimator":       DefaultEstimator,
		"workers":         DefaultWorkers,
		"max_file_bytes":  DefaultMaxFileBytes,
		"oversize_policy": DefaultOversizePolicy,
		"token_limit":     DefaultTokenLimit,
		"format":          DefaultFormat,
		"log_level":       utils.DefaultLogLevel,
		"cache.enabled":   true,
		"cache.directory": "",
		"paths.exclude":   []string{},
	}
}

// InitializeConfiguration writes the default configuration to the requested
// target and returns its path. An existing file is replaced only with Force.
func InitializeConfiguration(options InitOptions) (string, error) {
	destinationPath, destinationError := initDestination(options)
	if destinationError != nil {
		return "", destinationError
	}

	writer := viper.New()
	writer.SetConfigPermissions(configurationFilePermissions)
	for key, value := range defaultSettings() {
		writer.Set(key, value)
	}
	var writeError error
	if options.Force {
		writeError = writer.WriteConfigAs(destinationPath)
	} else {
		writeError = writer.SafeWriteConfigAs(destinationPath)
	}
	var existsError viper.ConfigFileAlreadyExistsError
	if errors.As(writeError, &existsError) || errors.Is(writeError, os.ErrExist) {
		return "", fmt.Errorf("configuration file already exists at %s; use --force to replace it", destinationPath)
	}
	if writeError != nil {
		return "", fmt.Errorf("write configuration to %s: %w", destinationPath, writeError)
	}
	return destinationPath, nil
}

func initDestination(options InitOptions) (string, error) {
	switch options.Target {
	case InitTargetLocal, "":
		workingDirectory := options.WorkingDirectory
		if workingDirectory == "" {
			current, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("determine working directory for configuration: %w", err)
			}
			workingDirectory = current
		}
		return filepath.Join(workingDirectory, utils.LocalConfigFileName), nil
	case InitTargetGlobal:
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory for configuration: %w", err)
		}
		configurationDirectory := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName)
		if err := os.MkdirAll(configurationDirectory, 0o755); err != nil {
			return "", fmt.Errorf("create configuration directory %s: %w", configurationDirectory, err)
		}
		return filepath.Join(configurationDirectory, utils.ConfigFileName), nil
	default:
		return "", fmt.Errorf("unsupported init target %q", options.Target)
	}
}
