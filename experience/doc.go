// Package experience maintains the pool of natural-language lessons that
// training distills from rollouts. An updater pipeline summarizes each
// rollout, critiques every problem group, and consolidates the proposed
// edits into the next pool, caching every stage on disk so interrupted
// updates resume where they stopped. Snapshot stores persist the pool
// per training step on the filesystem, Redis, or Postgres.
package experience
