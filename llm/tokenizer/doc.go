// Package tokenizer counts the units a prompt or conversation consumes.
//
// OpenAI-family models are counted with tiktoken; everything else (and any
// model whose encoding cannot be loaded) falls back to a character-class
// estimator. Counts are used to trim conversation history to a budget and to
// fill in usage when an upstream omits it.
package tokenizer
