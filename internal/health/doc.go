// Package health provides composable probes and the HTTP handlers that serve
// them on the ops listener.
//
// Probes combine with [All]. [Fixed] is static and
// [CheckFunc] adapts a plain function. [Ping] turns a backend such as the rate
// limit store into a readiness probe with a bounded wait.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so the load
// balancer stops routing to the gateway before in-flight requests drain.
package health
