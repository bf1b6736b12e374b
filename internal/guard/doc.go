// Package guard composes the bypass rule set, the distributed quota
// adapter, the abuse detector, and the telemetry buffer into one
// process-wide request guard with a pre-handling and a post-handling
// hook. One Orchestrator is constructed by the composition root and
// passed by reference to everything that needs it.
package guard
