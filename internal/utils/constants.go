package utils

// EmptyString represents a reusable empty string constant.
const EmptyString = ""

// LoggerInitializationFailedMessageFormat reports a logger that could not be constructed.
const LoggerInitializationFailedMessageFormat = "initialize logger: %w"

// ApplicationExecutionFailedMessage prefixes the fatal log line written when a command fails.
const ApplicationExecutionFailedMessage = "ctxload failed"

// Application configuration locations.
const (
	// ApplicationName is the name used for configuration and cache directories.
	ApplicationName = "ctxload"
	// GlobalConfigDirectoryName is the directory under the user's home holding global configuration.
	GlobalConfigDirectoryName = "." + ApplicationName
	// ConfigFileName is the configuration file name used for global configuration.
	ConfigFileName = "config.yaml"
	// LocalConfigFileName is the configuration file name looked up in the working directory.
	LocalConfigFileName = "." + ApplicationName + ".yaml"
)
