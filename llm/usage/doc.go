// Package usage accumulates token and cost usage per user, feature and
// period, and appends the per-request interaction log.
//
// Tracker.Track is additive and never returns an error. Store failures are
// logged and counted, so cost accounting can never fail a request. Every
// Store applies deltas atomically on its own side (mutex, Lua script, SQL
// upsert), which makes concurrent tracking for one user lossless.
package usage
