// Package expr parses the boolean filter expressions used by query workloads
// and consistency checks.
//
// The grammar covers what the load scripts send to the data store:
//
//	pk in [1, 2, 3]
//	pk not in [4, 5]
//	0 <= pk < 1000 && int1 > 10
//	str1 like "abc%" or not (pk == 7)
//
// An empty expression matches every row. A parsed Expr can be evaluated
// directly against a row (memory and ZooKeeper gateways) or rendered as a
// parameterised SQL condition with ToSQL (SQL gateways).
package expr
