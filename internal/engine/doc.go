// Package engine provides the concrete speech-to-text, translation and speech
// synthesis backends: an OpenAI-compatible API client, a multipart client for
// whisper-style transcription servers, and deterministic offline stubs.
package engine
