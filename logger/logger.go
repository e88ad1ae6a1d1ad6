package logger

import (
	"fmt"
	"log"
	"strings"
)

var defaultLogger = &std{}

// Logger is the interface folka and its subpackages use for logging.
type Logger interface {
	// Printf will be used for informational messages. These can be thought of
	// having an 'Info'-level in a structured logger.
	Printf(string, ...interface{})

	// Debugf is used for debugging messages, mostly useful for debugging the
	// library itself. It only prints if the logger has debug enabled.
	Debugf(string, ...interface{})

	// Panicf will only be called on unexpected programming errors such as a
	// type assertion that should never fail. Regular errors are returned out
	// of the library.
	Panicf(string, ...interface{})

	// Prefix returns a logger that prefixes all messages with passed prefix.
	Prefix(string) Logger
}

// std bridges the logger calls to the standard library log.
type std struct {
	debug  bool
	prefix string
}

func (s *std) Printf(msg string, args ...interface{}) {
	log.Printf(s.prefix+msg, args...)
}

func (s *std) Debugf(msg string, args ...interface{}) {
	if s.debug {
		log.Printf(s.prefix+msg, args...)
	}
}

func (s *std) Panicf(msg string, args ...interface{}) {
	log.Panicf(s.prefix+msg, args...)
}

func (s *std) Prefix(prefix string) Logger {
	var prefStr string

	// stack onto the existing prefix
	if s.prefix != "" {
		prefStr += s.prefix + " "
	}
	if strings.TrimSpace(prefix) != "" {
		prefStr += "[" + prefix + "] "
	}

	return &std{
		debug:  s.debug,
		prefix: prefStr,
	}
}

// Default returns the standard library logger.
func Default() Logger {
	return defaultLogger
}

// Debug enables or disables debug logging on the default logger.
func Debug(debug bool) {
	defaultLogger.debug = debug
}

// Empty returns a logger that drops all messages. Useful to silence
// components in tests.
func Empty() Logger {
	return new(empty)
}

type empty struct{}

func (e *empty) Printf(string, ...interface{}) {}
func (e *empty) Debugf(string, ...interface{}) {}
func (e *empty) Panicf(msg string, args ...interface{}) {
	panic(fmt.Sprintf(msg, args...))
}
func (e *empty) Prefix(string) Logger { return e }
