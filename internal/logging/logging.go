// Package logging is a small wrapper over the standard logger. The router CLI
// must keep stdout clean for the JSON protocol, so everything here goes to
// stderr.
package logging

import (
	"log"
	"os"
)

var logger = log.New(os.Stderr, "", log.LstdFlags)

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	logger.Printf(format, v...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	logger.Printf(format, v...)
}
