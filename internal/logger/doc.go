// Package logger wraps zap with a process-wide sugared logger and context
// helpers (ToContext/FromContext/WithName/WithKV) so every component can log
// with the device, event and component fields of the request in flight.
package logger
