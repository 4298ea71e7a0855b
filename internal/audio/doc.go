// Package audio provides PCM-16 audio primitives for the translation pipeline:
// WAV encoding and decoding, level and resampling helpers, capture sources
// (PortAudio devices and in-memory buffers), playback, and the fixed-duration
// Chunker that feeds streaming mode.
package audio
