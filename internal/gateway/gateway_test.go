package gateway

import (
	"context"
	"encoding/json"
	"testing"
)

type nopGateway struct {
	cfg Config
}

func (g *nopGateway) Mutate(context.Context, []Record) error { return nil }
func (g *nopGateway) Query(context.Context, string, []string) ([]Row, error) {
	return []Row{{CountField: 0}}, nil
}
func (g *nopGateway) Close() error { return nil }

func init() {
	Register("nop-test", func(cfg Config) (Gateway, error) {
		return &nopGateway{cfg: cfg}, nil
	})
}

func TestOpenRegistered(t *testing.T) {
	gw, err := Open(Config{Kind: "nop-test"})
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer gw.Close()

	nop, ok := gw.(*nopGateway)
	if !ok {
		t.Fatalf("expected *nopGateway, got %T", gw)
	}
	if nop.cfg.PrimaryKey != "pk" {
		t.Errorf("expected default primary key 'pk', got %q", nop.cfg.PrimaryKey)
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(Config{Kind: "does-not-exist"})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestKinds(t *testing.T) {
	found := false
	for _, k := range Kinds() {
		if k == "nop-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected nop-test in %v", Kinds())
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("nop-test", func(Config) (Gateway, error) { return nil, nil })
}

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		want int64
		err  bool
	}{
		{"int64", []Row{{CountField: int64(10)}}, 10, false},
		{"int", []Row{{CountField: 3}}, 3, false},
		{"float", []Row{{CountField: float64(7)}}, 7, false},
		{"json number", []Row{{CountField: json.Number("12")}}, 12, false},
		{"string", []Row{{CountField: "5"}}, 5, false},
		{"bytes", []Row{{CountField: []byte("6")}}, 6, false},
		{"no rows", nil, 0, true},
		{"two rows", []Row{{CountField: 1}, {CountField: 2}}, 0, true},
		{"missing field", []Row{{"pk": 1}}, 0, true},
		{"bad type", []Row{{CountField: true}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Count(tt.rows)
			if tt.err {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	rows := []Row{
		{"pk": int64(1), "str1": "a"},
		{"pk": int64(2), "str1": "b"},
	}

	count := Select(rows, []string{CountField})
	if n, _ := Count(count); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}

	all := Select(rows, nil)
	if len(all) != 2 || len(all[0]) != 2 {
		t.Errorf("expected all fields, got %v", all)
	}

	proj := Select(rows, []string{"pk"})
	if len(proj[1]) != 1 || proj[1]["pk"] != int64(2) {
		t.Errorf("expected projection to pk, got %v", proj)
	}
}

func TestConfigKey(t *testing.T) {
	cfg := Config{PrimaryKey: "id"}

	key, err := cfg.Key(Record{"id": int64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "42" {
		t.Errorf("expected '42', got %q", key)
	}

	if _, err := cfg.Key(Record{"pk": 1}); err == nil {
		t.Error("expected error for missing primary key")
	}
}
