// Package adjacency finds, for every position of every vessel, the nearby
// vessels present at the same instant.
//
// Responsibilities: sharding positions by (timestamp, grid cell), bounded
// pairwise comparison inside each shard, and merging the per-shard candidate
// lists of a position into one ranked neighbour list.
// Key types: Sharder, ShardKey, VesselPosition, ShardResult.
//
// Each position is routed to every cell its search disc overlaps, so two
// vessels within the search radius always share at least one shard. A
// position therefore reaches the merger from several shards; the merger
// drops self matches and duplicates before ranking.
//
// No I/O and no logging happen in this package.
package adjacency
