// Package bench provides the benchmark controller.
//
// An Engine drives one run through a fixed sequence of phases:
//
//	INIT → WARMUP → RUNNING → DRAINING → REPORT → DONE
//
// INIT validates the configuration and opens the gateway. WARMUP issues a
// single synchronous call of the configured operation. RUNNING starts the
// workers, the consistency verifier and optional fault injection, then waits
// for the deadline or a manual abort. DRAINING stops every producer and joins
// each one with a bounded timeout. REPORT assembles an immutable Report only
// after the producers have been joined, and DONE closes the gateway.
//
// # Usage
//
//	config, _ := bench.GetPreset("upsert-disjoint")
//	config.Concurrency = 16
//	engine := bench.New(config)
//	report, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err) // *ConfigError or *WarmupError
//	}
//	report.Write(os.Stdout, bench.FormatText)
//
// # Completeness
//
// A component that does not stop within DrainTimeout is abandoned and the
// report is marked incomplete, with one reason per component. Calls that were
// still in flight are reported as InFlight rather than dropped.
package bench
