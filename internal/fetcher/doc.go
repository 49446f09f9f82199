// Package fetcher downloads package files and repository metadata over HTTP.
//
// Downloads are streamed: the caller supplies a consume function that reads
// the body while it arrives. Concurrency is bounded by a semaphore held for
// the lifetime of each stream, and an optional token bucket limits the
// total byte rate of all streams together.
//
// # Failure classification
//
// Transient failures are retried with exponential backoff:
//   - network errors and response-header timeouts
//   - HTTP 5xx and 429
//   - read errors in the middle of the body, including stalls
//
// Permanent failures are returned at once as *types.FetchError with
// Transient unset: any other non-200 status and a checksum mismatch.
// Errors produced by the consume function are returned unchanged.
//
// # Usage
//
//	f := fetcher.New(fetcher.DefaultConfig(), logger, m)
//	err := f.Fetch(ctx, url, desc.Checksum, func(r io.Reader) error {
//	    return unpack(r)
//	})
package fetcher
