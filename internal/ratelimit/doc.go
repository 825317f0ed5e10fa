// Package ratelimit provides fixed-window admission control per client and
// per policy, with an injectable tracking store and clock.
//
// Each Policy carries a window length, a request ceiling, a rejection message
// and an optional bypass predicate. A Limiter binds one policy to a Store;
// several limiters may share one store because entries are keyed by
// (policy, client) and never interact across policies.
//
// The in-memory store sweeps stale windows of the calling policy on every hit,
// and can additionally run a background sweeper. Neither changes admission
// results: a stale window is always replaced on the next hit from its client.
//
// This is a single-instance limiter unless a shared Store (see redisstore) is
// plugged in. It does not protect against distributed attacks.
package ratelimit
