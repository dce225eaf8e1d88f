package core

// Logger is any service that can log messages with optional structured args.
// Args may carry errors, context maps or a session for user attribution.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
