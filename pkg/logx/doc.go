// Package logx configures uenotify's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp and caller) and file output JSON-structured.
// Sinks and level can be swapped at runtime through Service.Apply.
package logx
