// Package memory implements the "memory" gateway: an in-process table served
// by a primary node and optional read replicas.
//
// Writes are applied to the primary synchronously and shipped to every
// replica in order, each replica applying them ReplicationLag after the write
// was acknowledged. Reads are spread round-robin over the replicas, so a
// non-zero lag makes count queries observe stale values for that window. This
// is how the harness exercises its consistency checks without an external
// store.
//
// Nodes can be suspended (calls fail with ErrSuspended) and given an
// artificial per-call latency.
package memory
