package logging

import (
	"os"
	"strings"
)

// Level is a log severity. Lines below a writer's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a case-insensitive level name to a Level. "warning" is
// accepted for warn; anything unrecognised is LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelInfo
}

// Config holds logging configuration.
type Config struct {
	Level Level // console threshold; the log file always records debug

	DebugMode bool   // write a JSONL event trace
	DebugLLM  bool   // also write full provider payloads
	DebugDir  string // where traces go

	LogDir string // daily log files; empty disables them
}

const (
	DefaultDebugDir = "/tmp/agentd-debug"
	DefaultLogDir   = ".agentd/logs"
)

// ConfigFromEnv reads AGENTD_DEBUG, AGENTD_DEBUG_LLM, AGENTD_DEBUG_DIR,
// AGENTD_LOG_DIR ("-" turns file logging off) and AGENTD_LOG_LEVEL.
func ConfigFromEnv() Config {
	cfg := Config{Level: LevelInfo, DebugDir: DefaultDebugDir, LogDir: DefaultLogDir}

	cfg = cfg.WithDebugMode(os.Getenv("AGENTD_DEBUG") == "1")
	cfg.DebugLLM = os.Getenv("AGENTD_DEBUG_LLM") == "1"

	if dir, ok := os.LookupEnv("AGENTD_DEBUG_DIR"); ok && dir != "" {
		cfg.DebugDir = dir
	}
	switch dir := os.Getenv("AGENTD_LOG_DIR"); dir {
	case "":
	case "-":
		cfg.LogDir = ""
	default:
		cfg.LogDir = dir
	}
	if level := os.Getenv("AGENTD_LOG_LEVEL"); level != "" {
		cfg = cfg.WithLevel(ParseLevel(level))
	}
	return cfg
}

// WithDebugMode turns tracing on and drops the console to debug. Passing
// false leaves the config unchanged.
func (c Config) WithDebugMode(enabled bool) Config {
	if enabled {
		c.DebugMode = true
		c.Level = LevelDebug
	}
	return c
}

func (c Config) WithLevel(level Level) Config {
	c.Level = level
	return c
}
