package config

// Option adjusts how Load locates configuration.
type Option func(*options)

type options struct {
	configPath string
}

// WithConfigFile specifies an explicit configuration file path. It takes
// precedence over the environment but not over the --config flag.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}
