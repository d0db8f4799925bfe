package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type defLogger struct {
	name string
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print(d.line("ERR", format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print(d.line("WRN", format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print(d.line("INF", format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print(d.line("DBG", format, args...))
}

func (d defLogger) line(level, format string, args ...any) string {
	prefix := "[" + level + "] AUTH "
	if d.name != "" {
		prefix += d.name + " "
	}
	return newline(prefix + formatMessage(format, args...))
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// formatMessage accepts both printf style calls and message + key/value
// pairs.
func formatMessage(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}

	if strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...)
	}

	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		b.WriteString(" ")
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	return b.String()
}

// ResolveLogger picks the logger for a component: an explicit logger wins,
// then the provider, then the default stdout logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		return provider, logger
	}

	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return provider, l
		}
	}

	return provider, defLogger{name: name}
}

// SlogLogger adapts a *slog.Logger to Logger
type SlogLogger struct {
	logger *slog.Logger
}

var _ Logger = (*SlogLogger)(nil)
var _ LoggerProvider = (*SlogLogger)(nil)

// NewSlogLogger wraps the given logger, falling back to slog.Default
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (s *SlogLogger) GetLogger(name string) Logger {
	return &SlogLogger{logger: s.logger.With("component", name)}
}

func (s *SlogLogger) Debug(format string, args ...any) {
	s.log(slog.LevelDebug, format, args...)
}

func (s *SlogLogger) Info(format string, args ...any) {
	s.log(slog.LevelInfo, format, args...)
}

func (s *SlogLogger) Warn(format string, args ...any) {
	s.log(slog.LevelWarn, format, args...)
}

func (s *SlogLogger) Error(format string, args ...any) {
	s.log(slog.LevelError, format, args...)
}

func (s *SlogLogger) log(level slog.Level, format string, args ...any) {
	if strings.Contains(format, "%") {
		s.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
		return
	}
	s.logger.Log(context.Background(), level, format, args...)
}
