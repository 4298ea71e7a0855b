// Package server provides the HTTP surfaces: the request gateway for
// /translate-audio with its admission checks, and the monitor server of the
// live loop.
package server
