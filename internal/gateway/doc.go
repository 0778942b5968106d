// Package gateway defines the narrow client interface the harness uses to
// reach the data store under test, and a registry of backends.
//
// The core only ever calls Mutate and Query. Any error is treated as "this
// call failed" without inspecting its cause.
//
// # Backends
//
// Backends register themselves by kind from their package init function;
// import loadcheck/internal/gateway/all to make every backend available:
//
//	memory     in-process table with lagging read replicas (tests, self-checks)
//	sqlite     embedded SQL database (modernc.org/sqlite)
//	mysql      MySQL / TiDB (go-sql-driver/mysql)
//	postgres   PostgreSQL / CockroachDB (lib/pq)
//	zookeeper  one znode per record (samuel/go-zookeeper)
//	rest       Milvus RESTful v2 API
//
// # Basic Usage
//
//	gw, err := gateway.Open(gateway.Config{Kind: "memory", PrimaryKey: "pk"})
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//
//	_ = gw.Mutate(ctx, []gateway.Record{{"pk": int64(1)}})
//	rows, _ := gw.Query(ctx, "pk >= 0", []string{gateway.CountField})
//	n, _ := gateway.Count(rows)
package gateway
