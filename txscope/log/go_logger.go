package log

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
)

// GoLogger writes events through the standard library logger.
//
// It is meant for tools and tests that do not want to configure zap. Messages
// and string field values are sanitized against log injection.
type GoLogger struct {
	Level  Level
	fields []Field
	groups []string
	out    *stdlog.Logger
}

// NewGoLogger creates a GoLogger at the given verbosity writing to the
// standard logger.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

// Log implements Logger.
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	line := l.format(level, msg, fields)

	if l.out != nil {
		l.out.Print(line)
		return
	}

	stdlog.Print(line)
}

// With returns a child logger carrying additional fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	if l == nil {
		return &GoLogger{}
	}

	child := l.clone()
	child.fields = append(child.fields, fields...)

	return child
}

// WithGroup returns a child logger that prefixes subsequent field keys.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	if l == nil {
		return &GoLogger{}
	}

	child := l.clone()
	child.groups = append(child.groups, name)

	return child
}

// Enabled reports whether level passes the configured verbosity.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

// Sync is a no-op; the standard logger is unbuffered.
func (l *GoLogger) Sync(_ context.Context) error { return nil }

func (l *GoLogger) clone() *GoLogger {
	fields := make([]Field, len(l.fields))
	copy(fields, l.fields)

	groups := make([]string, len(l.groups))
	copy(groups, l.groups)

	return &GoLogger{Level: l.Level, fields: fields, groups: groups, out: l.out}
}

func (l *GoLogger) format(level Level, msg string, fields []Field) string {
	parts := make([]string, 0, 3)
	parts = append(parts, fmt.Sprintf("[%s]", level.String()))

	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	if len(all) > 0 {
		prefix := ""
		if len(l.groups) > 0 {
			prefix = strings.Join(l.groups, ".") + "."
		}

		kv := make([]string, 0, len(all))
		for _, f := range all {
			value := fmt.Sprint(f.Value)
			kv = append(kv, fmt.Sprintf("%s%s=%s", prefix, f.Key, SanitizeMessage(value)))
		}

		parts = append(parts, fmt.Sprintf("[%s]", strings.Join(kv, ", ")))
	}

	parts = append(parts, SanitizeMessage(msg))

	return strings.Join(parts, " ")
}
