// Package store defines the SQLite-backed tile cache keyed by
// (zoom_level, tile_x, tile_y, tile_provider). The table layout and column
// names are load-bearing: they match existing tiles_cache.db files produced
// by earlier deployments, so opening an old cache file keeps its contents
// usable. Writes are INSERT OR REPLACE (last write wins), lookups are point
// queries, and nothing is ever evicted. The fetch orchestrator depends on
// this package for its cache-hit fast path and write-through population.
package store
