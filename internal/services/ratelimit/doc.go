// Package ratelimit bounds how many operations a caller key may perform
// per rolling time window.
//
// The policy is a fixed-capacity sliding log: per key the limiter keeps the
// instants of admitted requests inside the trailing window and denies once
// the window is full. Denials are immediate; there is no queuing. Idle keys
// are reclaimed by a periodic Sweep.
package ratelimit
