// Package logging constructs the slog.Logger both binaries use.
package logging
