// Package logging wraps the standard library's log package with a
// per-component prefix, the same plain log.Printf style the teacher
// uses directly throughout virtual/environment.go and
// virtual/activations.go.
package logging

import "log"

// Logger prefixes every line with a component tag and this app's ID.
type Logger struct {
	prefix string
}

// New returns a Logger tagging its output with component and appID,
// e.g. "[registry app0] pull loop: ...".
func New(component, appID string) *Logger {
	return &Logger{prefix: "[" + component + " " + appID + "] "}
}

func (l *Logger) Printf(format string, args ...any) {
	log.Printf(l.prefix+format, args...)
}

func (l *Logger) Println(args ...any) {
	log.Println(append([]any{l.prefix}, args...)...)
}
