// Package orchestrator is the top-level coordinator of the gateway.
//
// Process runs one request through the pipeline:
//
//  1. similarity cache lookup; a hit returns immediately with Cached set
//  2. primary provider chosen from the feature policy table, else the default
//  3. context enhancement on a copy of the request
//  4. dispatch, directly or through the request batcher for batch features
//  5. on any provider failure (timeouts included) one retry on the
//     feature's fallback provider, otherwise OrchestrationFailed
//  6. cost tracking, cache population, interaction and conversation logging
//     run in the background and never affect the response
//
// The policy table can be swapped at runtime with SetPolicy.
package orchestrator
