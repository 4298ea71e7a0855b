// Package stage wraps the external speech-to-text, translation and speech
// synthesis engines behind uniform adapters. Every adapter bounds the engine
// call with a timeout and reports failures as *EngineError.
package stage
