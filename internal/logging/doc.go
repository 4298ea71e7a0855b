// Package logging builds the slog logger shared by the service binaries.
package logging
