/*
Package providers holds the pieces every provider variant shares: the
configuration shape, HTTP error mapping onto the gateway error taxonomy, and
a JSON round-trip helper.

Variants live in subpackages:

  - openaicompat: the OpenAI chat/embeddings/vision wire format, usable for
    any compatible endpoint
  - openai: openaicompat with OpenAI defaults and the organization header
  - anthropic: the Messages API; embeddings are delegated to another Embedder

Error mapping:

  - 429 becomes ProviderRateLimited
  - 5xx, 529 and transport failures become ProviderUnavailable
  - a deadline becomes UpstreamTimeout
  - any other 4xx, an undecodable body or an empty answer becomes
    ProviderInvalidResponse
*/
package providers
