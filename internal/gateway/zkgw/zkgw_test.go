package zkgw

import (
	"encoding/json"
	"reflect"
	"testing"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
)

func TestNodePath(t *testing.T) {
	g := &Gateway{cfg: gateway.Config{PrimaryKey: "pk"}, base: Root + "/bench"}

	p, err := g.NodePath(gateway.Record{"pk": int64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != "/loadcheck/bench/42" {
		t.Errorf("expected /loadcheck/bench/42, got %s", p)
	}

	if _, err := g.NodePath(gateway.Record{"pk": "a/b"}); err == nil {
		t.Error("expected error for key containing '/'")
	}
	if _, err := g.NodePath(gateway.Record{"id": 1}); err == nil {
		t.Error("expected error for missing primary key")
	}
}

func TestDecodeRowMatchesFilter(t *testing.T) {
	data, _ := json.Marshal(gateway.Record{"pk": int64(7), "str1": "abc", "int1": int64(3)})

	row, err := DecodeRow(data)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if _, ok := row["pk"].(json.Number); !ok {
		t.Errorf("expected json.Number for pk, got %T", row["pk"])
	}

	if !expr.MustParse("pk in [7, 8] && str1 like \"a%\" && int1 < 4").Match(row) {
		t.Error("expected decoded row to match filter")
	}

	if _, err := DecodeRow([]byte("not json")); err == nil {
		t.Error("expected error for invalid data")
	}
}

func TestKeyValue(t *testing.T) {
	if v := keyValue("123"); v != int64(123) {
		t.Errorf("expected int64 123, got %v (%T)", v, v)
	}
	if v := keyValue("abc"); v != "abc" {
		t.Errorf("expected string abc, got %v", v)
	}
}

func TestOnlyReferences(t *testing.T) {
	if !onlyReferences(expr.MustParse("0 <= pk < 10"), "pk") {
		t.Error("expected pk-only filter")
	}
	if !onlyReferences(expr.MustParse(""), "pk") {
		t.Error("expected empty filter to be key-only")
	}
	if onlyReferences(expr.MustParse("pk > 1 && int1 == 2"), "pk") {
		t.Error("expected filter on int1 not to be key-only")
	}
}

func TestSplitServers(t *testing.T) {
	got := splitServers(" zk1:2181, zk2:2181,,")
	want := []string{"zk1:2181", "zk2:2181"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(gateway.Config{Collection: "bench"}); err == nil {
		t.Error("expected error without servers")
	}
	if _, err := Open(gateway.Config{Target: "127.0.0.1:2181", Collection: "a/b"}); err == nil {
		t.Error("expected error for invalid collection")
	}
}
