package log

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

type Level logging.Level

// The levels that can be passed to the SetLevel function.
const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

var levels = []struct {
	level   Level
	backend logging.Level
	names   []string
}{
	{Debug, logging.DEBUG, []string{"debug"}},
	{Info, logging.INFO, []string{"info"}},
	{Notice, logging.NOTICE, []string{"notice", ""}},
	{Warning, logging.WARNING, []string{"warning", "warn"}},
	{Error, logging.ERROR, []string{"error"}},
}

func (l Level) String() string {
	for _, entry := range levels {
		if entry.level == l {
			return entry.names[0]
		}
	}
	return "unknown"
}

func (l Level) backendLevel() logging.Level {
	for _, entry := range levels {
		if entry.level == l {
			return entry.backend
		}
	}
	return logging.NOTICE
}

var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

var (
	leveledBackend logging.LeveledBackend
	globalLevel    = Notice
	moduleLevels   = map[string]Level{}
)

type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Notice(v ...interface{})
	Noticef(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Create a new named logger. Components name their logger after the
// resource they manage (e.g. "blas builder", "software device (strict)").
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// Redirect all loggers to sink. Configured levels are kept.
func SetSink(sink io.Writer) {
	backend := logging.NewBackendFormatter(logging.NewLogBackend(sink, "", 0), format)
	leveledBackend = logging.AddModuleLevel(backend)
	applyLevels()
	logging.SetBackend(leveledBackend)
}

// Set the verbosity of all loggers without a module level.
func SetLevel(level Level) {
	globalLevel = level
	applyLevels()
}

// Set the verbosity of the logger created with New(module).
func SetModuleLevel(module string, level Level) {
	moduleLevels[module] = level
	applyLevels()
}

func applyLevels() {
	leveledBackend.SetLevel(globalLevel.backendLevel(), "")
	for module, level := range moduleLevels {
		leveledBackend.SetLevel(level.backendLevel(), module)
	}
}

// Parse a textual level name as found in config files.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range levels {
		for _, n := range entry.names {
			if n == name {
				return entry.level, nil
			}
		}
	}
	return Notice, errors.Errorf("log: unknown level %q", name)
}

func init() {
	SetSink(os.Stdout)
}
