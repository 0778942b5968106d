// Package workload defines the operations workers issue against the gateway
// and keeps the tally of written keys that the verifier reads.
//
// A Workload implements worker.Operation. Each worker gets its own task with
// a private random source, so payload generation never contends:
//
//	upsert  batches of records; keys per worker (disjoint) or shared (overlap)
//	insert  batches of fresh keys that are never reused
//	query   one filtered query with the configured output fields
//	mixed   upsert or query, chosen per call by WriteRatio
//
// Every write is registered in the KeySet before the call and resolved after
// it. The expected record count is therefore a range: acknowledged keys give
// the lower bound, keys still in flight or whose write failed widen the upper
// bound.
package workload
