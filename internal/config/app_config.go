package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/temirov/ctxload/internal/utils"
)

// Defaults applied when neither configuration nor flags provide a value.
const (
	DefaultEstimator      = "chars4"
	DefaultWorkers        = 8
	DefaultMaxFileBytes   = int64(2 << 20)
	DefaultOversizePolicy = "truncate"
	DefaultTokenLimit     = 32000
	DefaultFormat         = "raw"
)

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
}

// ApplicationConfiguration holds configuration shared by every command.
type ApplicationConfiguration struct {
	Estimator      string             `mapstructure:"estimator"`
	Workers        *int               `mapstructure:"workers"`
	MaxFileBytes   *int64             `mapstructure:"max_file_bytes"`
	OversizePolicy string             `mapstructure:"oversize_policy"`
	TokenLimit     *int               `mapstructure:"token_limit"`
	Format         string             `mapstructure:"format"`
	LogLevel       string             `mapstructure:"log_level"`
	Cache          CacheConfiguration `mapstructure:"cache"`
	Paths          PathConfiguration  `mapstructure:"paths"`
}

// CacheConfiguration controls the persistent token cache.
type CacheConfiguration struct {
	Enabled   *bool  `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// PathConfiguration configures additional exclusion rules for path traversal.
type PathConfiguration struct {
	Exclude []string `mapstructure:"exclude"`
}

// LoadApplicationConfiguration loads configuration from global and local files.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf("determine working directory: %w", err)
		}
		workingDirectory = currentDirectory
	}

	var merged ApplicationConfiguration

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName)
		globalConfig, loadErr := loadConfigurationFromPath(globalPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(globalConfig)
	}

	localPath, resolveErr := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	if resolveErr != nil {
		return ApplicationConfiguration{}, resolveErr
	}
	if localPath != "" {
		localConfig, loadErr := loadConfigurationFromPath(localPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(localConfig)
	}

	merged.Paths.Exclude = utils.DeduplicatePatterns(merged.Paths.Exclude)

	return merged, nil
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) (string, error) {
	if explicitPath != "" {
		if filepath.IsAbs(explicitPath) {
			return explicitPath, nil
		}
		if workingDirectory == "" {
			absolute, err := filepath.Abs(explicitPath)
			if err != nil {
				return "", fmt.Errorf("resolve configuration path %s: %w", explicitPath, err)
			}
			return absolute, nil
		}
		return filepath.Join(workingDirectory, explicitPath), nil
	}
	if workingDirectory == "" {
		return "", nil
	}
	return filepath.Join(workingDirectory, utils.LocalConfigFileName), nil
}

func loadConfigurationFromPath(path string) (ApplicationConfiguration, error) {
	if path == "" {
		return ApplicationConfiguration{}, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return ApplicationConfiguration{}, nil
		}
		return ApplicationConfiguration{}, fmt.Errorf("stat configuration %s: %w", path, statErr)
	}
	if info.IsDir() {
		return ApplicationConfiguration{}, fmt.Errorf("configuration path %s is a directory", path)
	}

	reader := viper.New()
	reader.SetConfigFile(path)
	reader.SetConfigType("yaml")
	if readErr := reader.ReadInConfig(); readErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("read configuration from %s: %w", path, readErr)
	}
	var config ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&config); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("decode configuration from %s: %w", path, decodeErr)
	}
	return config, nil
}

// Merge overlays override onto the receiver returning the combined configuration.
func (config ApplicationConfiguration) Merge(override ApplicationConfiguration) ApplicationConfiguration {
	result := config
	if override.Estimator != "" {
		result.Estimator = override.Estimator
	}
	if override.Workers != nil {
		result.Workers = cloneInt(override.Workers)
	}
	if override.MaxFileBytes != nil {
		cloned := *override.MaxFileBytes
		result.MaxFileBytes = &cloned
	}
	if override.OversizePolicy != "" {
		result.OversizePolicy = override.OversizePolicy
	}
	if override.TokenLimit != nil {
		result.TokenLimit = cloneInt(override.TokenLimit)
	}
	if override.Format != "" {
		result.Format = override.Format
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	result.Cache = result.Cache.merge(override.Cache)
	result.Paths = result.Paths.merge(override.Paths)
	return result
}

func (config CacheConfiguration) merge(override CacheConfiguration) CacheConfiguration {
	result := config
	if override.Enabled != nil {
		result.Enabled = cloneBool(override.Enabled)
	}
	if override.Directory != "" {
		result.Directory = override.Directory
	}
	return result
}

func (config PathConfiguration) merge(override PathConfiguration) PathConfiguration {
	result := config
	if len(override.Exclude) > 0 {
		result.Exclude = append([]string{}, utils.DeduplicatePatterns(override.Exclude)...)
	}
	return result
}

// EstimatorOrDefault returns the configured estimator name or DefaultEstimator.
func (config ApplicationConfiguration) EstimatorOrDefault() string {
	if strings.TrimSpace(config.Estimator) == "" {
		return DefaultEstimator
	}
	return strings.TrimSpace(config.Estimator)
}

// WorkersOrDefault returns the configured worker count or DefaultWorkers.
func (config ApplicationConfiguration) WorkersOrDefault() int {
	if config.Workers == nil || *config.Workers <= 0 {
		return DefaultWorkers
	}
	return *config.Workers
}

// MaxFileBytesOrDefault returns the configured per-file byte cap or DefaultMaxFileBytes.
func (config ApplicationConfiguration) MaxFileBytesOrDefault() int64 {
	if config.MaxFileBytes == nil || *config.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return *config.MaxFileBytes
}

// OversizePolicyOrDefault returns the configured oversize policy or DefaultOversizePolicy.
func (config ApplicationConfiguration) OversizePolicyOrDefault() string {
	if strings.TrimSpace(config.OversizePolicy) == "" {
		return DefaultOversizePolicy
	}
	return strings.ToLower(strings.TrimSpace(config.OversizePolicy))
}

// TokenLimitOrDefault returns the configured selection token limit or DefaultTokenLimit.
func (config ApplicationConfiguration) TokenLimitOrDefault() int {
	if config.TokenLimit == nil || *config.TokenLimit <= 0 {
		return DefaultTokenLimit
	}
	return *config.TokenLimit
}

// FormatOrDefault returns the configured output format or DefaultFormat.
func (config ApplicationConfiguration) FormatOrDefault() string {
	if strings.TrimSpace(config.Format) == "" {
		return DefaultFormat
	}
	return strings.ToLower(strings.TrimSpace(config.Format))
}

// CacheEnabled reports whether the persistent cache is enabled. It defaults to true.
func (config ApplicationConfiguration) CacheEnabled() bool {
	if config.Cache.Enabled == nil {
		return true
	}
	return *config.Cache.Enabled
}

// CacheDirectoryOrDefault returns the configured cache directory or the user cache directory.
func (config ApplicationConfiguration) CacheDirectoryOrDefault() string {
	if strings.TrimSpace(config.Cache.Directory) == "" {
		return utils.UserCacheDirectory()
	}
	return config.Cache.Directory
}

func cloneBool(value *bool) *bool {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
