// Package models owns the process-wide model bundle: the three stage adapters
// over their engines, built once under a single-flight guard either eagerly at
// startup or lazily on first use.
package models
