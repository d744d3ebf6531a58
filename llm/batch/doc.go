/*
Package batch groups compatible generation requests that arrive within a
short window and submits them to a provider as one call.

Requests are partitioned by key (feature and provider). Per key:

  - the first Add opens a batch and starts its window timer
  - later Adds append until the batch reaches MaxSize, which flushes it at once
  - otherwise the timer flushes it when the window ends
  - a flushed batch is detached from the key, so new arrivals open a fresh one

A batch is resolved positionally: item i gets response i. When the call fails
every item receives the same BatchFailed error. Callers that give up early
get their context error; the batch still runs and the result is dropped.
*/
package batch
