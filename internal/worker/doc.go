// Package worker drives a fixed pool of goroutines against a gateway until a
// deadline or a stop signal.
//
// Each worker owns one Task for its whole life and loops:
//
//	check stop signal and deadline (non-blocking)
//	task.Prepare()            // payload, not timed
//	task.Call(ctx, gateway)   // the only timed section
//	record sample, count success or error
//	task.Done(err)            // bookkeeping, not timed
//
// Calls already in flight are never cancelled by the stop signal; the call
// context is detached from it and only bounded by Config.CallTimeout.
// Samples go to a worker-local metrics.Batch that is merged into the shared
// Recorder when the worker exits.
//
// # Basic Usage
//
//	d := worker.NewDriver(gw, recorder, &errCount, worker.DefaultConfig())
//	out, err := d.Run(ctx, 8, time.Now().Add(10*time.Second), op)
//	if worker.IsDrainTimeout(err) {
//	    // some workers never returned; out.InFlight holds their calls
//	}
//
// # Draining
//
// Run.Wait joins the workers with a bounded timeout. Workers still inside a
// call when it expires are reported as stalled through *DrainTimeoutError;
// their calls are reported as in flight, so Success + Errors + InFlight
// always equals Calls.
package worker
