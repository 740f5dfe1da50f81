package kvstore

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
)

func openTestSQLite(t *testing.T, path string) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	return s
}

func TestSQLite_RoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dashboard.db")

	s := openTestSQLite(t, path)
	if err := s.Set(ctx, "weather_app_locations", `[{"zipCode":"90210"}]`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openTestSQLite(t, path)
	defer s.Close()
	v, ok, err := s.Get(ctx, "weather_app_locations")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want true, nil", ok, err)
	}
	if v != `[{"zipCode":"90210"}]` {
		t.Errorf("Get() = %q, want stored value", v)
	}
}

func TestSQLite_OverwriteAndRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "kv.db"))
	defer s.Close()

	_ = s.Set(ctx, "k", "1")
	_ = s.Set(ctx, "k", "2")
	if v, _, _ := s.Get(ctx, "k"); v != "2" {
		t.Errorf("Get() = %q, want 2", v)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Errorf("Get() after Remove = ok %v, err %v; want false, nil", ok, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// TestSQLite_KeysPrefixIsLiteral verifies that '_' in the prefix is not a wildcard.
func TestSQLite_KeysPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "kv.db"))
	defer s.Close()

	for _, k := range []string{"weather_cache_a", "weatherXcacheXb", "weather_cache_c", "weather_app_locations"} {
		if err := s.Set(ctx, k, "v"); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "weather_cache_")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "weather_cache_a" || keys[1] != "weather_cache_c" {
		t.Errorf("Keys() = %v, want [weather_cache_a weather_cache_c]", keys)
	}
}
