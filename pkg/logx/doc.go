// Package logx is emsctl's structured logging layer on top of zerolog.
//
// Loggers are cheap values. A Logger obtained from a Service follows every
// Service.Apply, so a config reload changes level and sinks for all
// components at once. Console output goes to stderr so command output on
// stdout stays machine-readable.
package logx
