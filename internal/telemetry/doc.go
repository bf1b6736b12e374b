// Package telemetry holds the structured event model and the bounded
// in-memory buffer that decouples the request path from sink delivery.
package telemetry
