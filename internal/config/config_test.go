package config

import (
	"path/filepath"
	"testing"

	"github.com/soundforge/djengine/internal/db"
)

func openTestConfig(t *testing.T) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database)
}

func TestGetReturnsSeededDefaults(t *testing.T) {
	c := openTestConfig(t)
	if got := c.Get("master_bpm", "0"); got != "120" {
		t.Fatalf("got %q, want seeded default 120", got)
	}
}

func TestGetFallbackWhenMissing(t *testing.T) {
	c := openTestConfig(t)
	if got := c.Get("no_such_key", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestSetUpdatesCacheAndPersists(t *testing.T) {
	c := openTestConfig(t)
	if err := c.Set("output_device_id", "3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := c.GetInt("output_device_id", -1); got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}

func TestGetIntFallbackOnUnparsable(t *testing.T) {
	c := openTestConfig(t)
	c.Set("junk", "not-a-number")
	if got := c.GetInt("junk", 42); got != 42 {
		t.Fatalf("got %v, want fallback 42", got)
	}
}

func TestGetFloatParsesStoredValue(t *testing.T) {
	c := openTestConfig(t)
	if got := c.GetFloat("master_bpm", 0); got != 120.0 {
		t.Fatalf("got %v, want 120.0", got)
	}
}
