// Package logx is trackbot's structured logging layer over zerolog.
//
// Logger is a small value type; its zero value discards everything. A
// Service owns the sinks (console, JSON file, rate-limited chat mirror) and
// can swap them at runtime.
package logx
