// Package sqlgw implements the SQL gateways: "sqlite" (modernc.org/sqlite),
// "mysql" (go-sql-driver/mysql) and "postgres" (lib/pq).
//
// Config.Target is the driver DSN and Config.Collection the table name.
// Mutate upserts a batch in one transaction using the dialect's conflict
// clause. Query translates the filter expression to a parameterised WHERE
// clause; a count(*) output field becomes SELECT COUNT(*).
//
// With CreateTable set, Open creates a table with the columns the built-in
// workloads write: the primary key, int1, str1 and embeddings (JSON text).
package sqlgw
