// Package dedupe remembers which gallery items were already shown in a room.
//
// A Set is a fixed-capacity, insertion-ordered membership structure: lookups
// are O(1) through a hash index and, once full, every new item evicts the
// oldest one (strict FIFO). Re-inserting a known item does not refresh it.
//
// A Cache maps scope keys (one per room) to Sets. Scopes are created lazily on
// first insert and never removed. Each scope has its own lock so lookups and
// inserts in different rooms never contend, and Snapshot copies one scope at a
// time so persistence never holds a lock while writing to disk.
package dedupe
