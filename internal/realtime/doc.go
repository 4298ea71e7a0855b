// Package realtime runs the live microphone loop: one producer capturing
// fixed-duration chunks into a bounded queue and one consumer translating and
// playing them, with a STOPPED/RUNNING lifecycle and status snapshots.
package realtime
