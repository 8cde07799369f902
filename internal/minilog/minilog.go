// Package minilog extends Go's logging functionality to allow for
// multiple named loggers, each with its own level. Call AddLogger to set
// up a logger, then use the package-level functions to send messages to
// every registered logger whose level permits them.
package minilog

import (
	"fmt"
	"io"
	golog "log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[int]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// levelColors tint the level tag on color-capable loggers.
var levelColors = map[int]*color.Color{
	DEBUG: color.New(color.FgHiBlack),
	INFO:  color.New(color.FgCyan),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed),
	FATAL: color.New(color.FgRed, color.Bold),
}

var (
	loggers = make(map[string]*logger)
	mu      sync.RWMutex
)

type logger struct {
	out      *golog.Logger
	level    int
	colorize bool
}

// AddLogger registers a named logger that only emits messages at level or
// higher. Re-adding a name replaces the previous logger.
func AddLogger(name string, out io.Writer, level int) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &logger{out: golog.New(out, "", golog.LstdFlags), level: level}
}

// AddColorLogger registers a named logger that additionally tints the
// level tag, for terminal sinks. fatih/color's global NoColor detection
// (NO_COLOR, dumb terminals) still applies.
func AddColorLogger(name string, out io.Writer, level int) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &logger{out: golog.New(out, "", golog.LstdFlags), level: level, colorize: true}
}

// DelLogger removes a named logger added with AddLogger.
func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()

	delete(loggers, name)
}

func log(level int, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	msg := fmt.Sprintf(format, args...)

	for _, l := range loggers {
		if level < l.level {
			continue
		}

		tag := levelNames[level]
		if l.colorize {
			tag = levelColors[level].Sprint(tag)
		}
		l.out.Printf("%s %s", tag, msg)
	}

	if len(loggers) == 0 && level >= WARN {
		fmt.Fprintf(os.Stderr, "%s %s\n", levelNames[level], msg)
	}
}

func Debug(format string, args ...interface{}) { log(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { log(INFO, format, args...) }
func Warn(format string, args ...interface{})  { log(WARN, format, args...) }
func Error(format string, args ...interface{}) { log(ERROR, format, args...) }

// Fatal logs at FATAL and exits the process, for unrecoverable startup
// errors.
func Fatal(format string, args ...interface{}) {
	log(FATAL, format, args...)
	os.Exit(1)
}

// LevelFromString parses "debug"/"info"/"warn"/"error"/"fatal"
// case-insensitively into a level constant, defaulting to INFO for
// unrecognized input.
func LevelFromString(s string) int {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}
