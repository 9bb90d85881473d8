// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a logx.Logger value and attach fixed fields with With().
// The Service owns the sinks (console and/or file) and can swap level and
// outputs at runtime via Apply() without invalidating derived loggers.
package logx
