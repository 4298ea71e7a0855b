// Package ratelimit implements a per-identity sliding window request limiter.
package ratelimit
