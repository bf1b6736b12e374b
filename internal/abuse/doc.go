// Package abuse tracks per-client request pressure with decaying
// counters and flags clients whose counter crosses a threshold.
//
// Each counter shrinks geometrically while its client is idle,
// approximating a fading-memory rate without storing a time series.
package abuse
