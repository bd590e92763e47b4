// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Log formats accepted by Configure.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatPlain = "plain"
)

// NullLogger discards everything. Useful in tests.
var NullLogger = &log.Logger{
	Out:       io.Discard,
	Formatter: new(log.TextFormatter),
	Hooks:     make(log.LevelHooks),
	Level:     log.PanicLevel,
}

// CommandLineFormatter prints only the message of each entry.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("%s\n", entry.Message)), nil
}

// Configure sets the level, format and output of the standard logger.
func Configure(level, format string, out io.Writer) error {
	return ConfigureLogger(log.StandardLogger(), level, format, out)
}

// ConfigureLogger sets the level, format and output of logger.
func ConfigureLogger(logger *log.Logger, level, format string, out io.Writer) error {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", FormatText:
		formatter = &log.TextFormatter{FullTimestamp: true}
	case FormatJSON:
		formatter = &log.JSONFormatter{}
	case FormatPlain:
		formatter = &CommandLineFormatter{}
	default:
		return fmt.Errorf("invalid log format %q (use text, json or plain)", format)
	}

	logger.SetLevel(lvl)
	logger.SetFormatter(formatter)
	if out != nil {
		logger.SetOutput(out)
	}
	return nil
}
