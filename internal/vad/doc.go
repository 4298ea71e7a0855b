// Package vad provides energy based voice activity detection. It decides
// whether a buffer is silence-only (transcribed as nothing) and applies the
// streaming mode energy gate.
package vad
