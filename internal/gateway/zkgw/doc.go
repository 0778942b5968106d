// Package zkgw implements the "zookeeper" gateway on top of
// github.com/samuel/go-zookeeper.
//
// Every record is a znode named after its primary key under
// /loadcheck/<collection>, holding the record as JSON. Count queries that
// only filter on the primary key are answered from the child list alone.
package zkgw
