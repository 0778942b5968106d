// Package metrics provides the latency recorder used by benchmark workers.
//
// Recorder collects per-call latency samples tagged with success or failure
// and computes percentile statistics once all workers have stopped. It is
// safe for concurrent use; the critical section is a single append.
//
// # Basic Usage
//
//	r := metrics.New()
//
//	// Each worker owns a Batch and merges it once when its loop ends
//	b := r.NewBatch()
//	start := time.Now()
//	err := call()
//	b.Record(time.Since(start), err == nil)
//	b.Flush()
//
//	// After every worker has been joined
//	snap := r.Snapshot()
//	fmt.Printf("p50=%v p99=%v mean=%v\n", snap.P50, snap.P99, snap.Mean)
//
// # Percentiles
//
// Successful latencies are sorted ascending and pN is read at index
// ceil(N/100 * n) - 1, clamped to [0, n-1]. With no successful samples every
// statistic is Undefined: it prints as "undefined" and encodes as JSON null,
// so a run where every call failed never reports a latency of zero.
//
// # Live Export
//
// Exporter mirrors calls, latencies, consistency checks and the controller
// phase into a private Prometheus registry for scraping while a run is in
// progress.
package metrics
