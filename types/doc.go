/*
Package types holds the structured error taxonomy shared by every aigate
package. It depends on nothing inside the module.

# Error taxonomy

Provider failures (PROVIDER_UNAVAILABLE, PROVIDER_RATE_LIMITED,
PROVIDER_INVALID_RESPONSE, UPSTREAM_TIMEOUT) and BATCH_FAILED trigger the
single fallback retry. ORCHESTRATION_FAILED is the only error that reaches a
caller of the orchestrator. CACHE_UNAVAILABLE and COST_TRACKING_FAILED are
logged and absorbed.

Use GetErrorCode, IsErrorCode and IsProviderFailure instead of type
assertions; they see through fmt.Errorf wrapping and errors.Join.
*/
package types
