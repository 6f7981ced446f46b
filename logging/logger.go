package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is a type alias for zerolog.Logger.
// We use zerolog directly instead of wrapping it with abstractions.
type Logger = zerolog.Logger

// Config contains logging configuration options.
type Config struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `yaml:"format"`

	// Async enables non-blocking logging through a diode ring buffer.
	// Fan-out of a single broker event can emit one log line per connection,
	// so the relay keeps this on in production.
	// Default: true
	Async bool `yaml:"async"`

	// AsyncBufferSize is the size of the async ring buffer (in messages).
	// Default: 100000
	AsyncBufferSize int `yaml:"async_buffer_size"`

	// AsyncPollInterval is how often the async writer polls for messages (in milliseconds).
	// Default: 100
	AsyncPollInterval int `yaml:"async_poll_interval"`

	// Sampling enables probabilistic log sampling to reduce volume.
	// Default: false
	Sampling bool `yaml:"sampling"`

	// SamplingInitial is the number of messages to log before sampling kicks in.
	// Default: 100
	SamplingInitial int `yaml:"sampling_initial"`

	// SamplingThereafter logs 1 in N messages after the initial count.
	// Default: 10
	SamplingThereafter int `yaml:"sampling_thereafter"`

	// EnableCaller adds caller information (file:line) to logs.
	// Default: false
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Level:              "info",
		Format:             "json",
		Async:              true,
		AsyncBufferSize:    100000,
		AsyncPollInterval:  100,
		Sampling:           false,
		SamplingInitial:    100,
		SamplingThereafter: 10,
		EnableCaller:       false,
	}
}

// NewLoggerFromConfig creates a logger from configuration.
func NewLoggerFromConfig(config Config) Logger {
	return newLogger(os.Stderr, config)
}

func newLogger(out io.Writer, config Config) Logger {
	level := parseLevel(config.Level)

	var output = out
	if strings.ToLower(config.Format) == "text" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			FormatLevel: func(i interface{}) string {
				ll, _ := i.(string)
				switch ll {
				case "debug":
					return "\033[35mDBG\033[0m"
				case "info":
					return "\033[32mINF\033[0m"
				case "warn":
					return "\033[33mWRN\033[0m"
				case "error":
					return "\033[31mERR\033[0m"
				case "fatal", "panic":
					return "\033[31;1m" + strings.ToUpper(ll[:3]) + "\033[0m"
				default:
					return "???"
				}
			},
		}
	}

	if config.Async {
		bufferSize := config.AsyncBufferSize
		if bufferSize <= 0 {
			bufferSize = 100000
		}
		pollInterval := config.AsyncPollInterval
		if pollInterval <= 0 {
			pollInterval = 100
		}

		// The diode drops the oldest lines when full. The logger cannot be used
		// from inside the callback, so write straight to stderr.
		output = diode.NewWriter(output, bufferSize, time.Duration(pollInterval)*time.Millisecond, func(missed int) {
			if missed > 0 {
				_, _ = os.Stderr.WriteString("WARN: dropped log messages due to full buffer\n")
			}
		})
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	if config.Sampling {
		initial := config.SamplingInitial
		if initial <= 0 {
			initial = 100
		}
		thereafter := config.SamplingThereafter
		if thereafter <= 0 {
			thereafter = 10
		}
		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(initial),
			NextSampler: &zerolog.BasicSampler{N: uint32(thereafter)},
		})
	}

	return logger
}

// parseLevel returns the zerolog.Level for the given string. It returns InfoLevel
// if the string is not recognized.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForComponent returns a child logger with the component field set.
// This is the preferred way to create component loggers.
func ForComponent(logger Logger, component string) Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}

// WithConnection returns a child logger carrying the connection id and remote address.
func WithConnection(logger Logger, connID, remoteAddr string) Logger {
	return logger.With().
		Str(FieldConnID, connID).
		Str(FieldRemoteAddr, remoteAddr).
		Logger()
}

// WithPrincipal returns a child logger with the authenticated principal set.
func WithPrincipal(logger Logger, principalID string) Logger {
	return logger.With().Str(FieldPrincipal, principalID).Logger()
}

// WithSession returns a child logger with the session_id field set.
func WithSession(logger Logger, sessionID string) Logger {
	return logger.With().Str(FieldSessionID, sessionID).Logger()
}

// WithRelayInstance returns a logger tagged with the relay instance id.
// Called once at startup so every line from a replica is attributable.
func WithRelayInstance(logger Logger, instanceID string) Logger {
	return logger.With().Str(FieldInstance, instanceID).Logger()
}
