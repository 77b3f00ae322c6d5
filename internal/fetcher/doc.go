// Package fetcher coordinates tile retrieval: consult the persistent store,
// fall back to an upstream HTTP fetch on miss, and write successful fetches
// back through to the store. A pending-request registry keyed by tile
// identity guarantees at most one outstanding fetch per tile and supports
// cancel-by-key when a tile scrolls out of view. Completed tiles are
// delivered to an injected Result Sink; failures never cross the sink
// boundary and are reported through a side channel instead. Keep the
// orchestration rules here — serving layers should only translate requests
// into RequestTile/CancelTile calls.
package fetcher
