// Package verify checks a count invariant against the gateway while writes
// are in flight.
//
// A Verifier runs one check at a time on a fixed interval. Each check reads
// the expected count, issues exactly one count(*) query, then reads the
// expected count again. The observation matches when it falls inside the
// union of both readings, so acknowledgements racing the query never show
// up as false violations.
//
// # Basic Usage
//
//	v := verify.New(gw, tally, verify.Config{Interval: 500 * time.Millisecond})
//	v.Start(ctx)
//	// ... run the workload ...
//	if err := v.Stop(5 * time.Second); err != nil {
//	    // the in-flight query did not return in time
//	}
//	s := v.Summary()
//	fmt.Println(s.Violations, s.ViolationRate, s.Recovered)
//
// Violations and query errors are recorded, logged and published on the
// event bus; neither stops the run. Summary reports the violation rate per
// time window and groups consecutive violations into transient and
// persistent streaks.
package verify
