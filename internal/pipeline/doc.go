// Package pipeline sequences the transcription, translation and synthesis
// stages into one utterance-processing transaction and publishes every
// finished utterance on an event bus.
package pipeline
