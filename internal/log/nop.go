package log

import "context"

// nopLogger discards everything, used as the fallback logger and in tests
type nopLogger struct{}

func (nopLogger) With(...any) Logger                           { return nopLogger{} }
func (nopLogger) Debug(context.Context, string, ...any)        {}
func (nopLogger) Info(context.Context, string, ...any)         {}
func (nopLogger) Warn(context.Context, string, ...any)         {}
func (nopLogger) Error(context.Context, error, string, ...any) {}
func (nopLogger) Sync() error                                  { return nil }

// Nop returns a Logger that drops all records.
func Nop() Logger { return nopLogger{} }
