package config

import "testing"

func TestGetStringDefault(t *testing.T) {
	if got := GetString("MEMORY_ENGINE_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("GetString on an unset key = %q, want %q", got, "fallback")
	}
	t.Setenv("MEMORY_ENGINE_TEST_KEY", "value")
	if got := GetString("MEMORY_ENGINE_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("GetString on a set key = %q, want %q", got, "value")
	}
}

func TestGetIntParsing(t *testing.T) {
	t.Setenv("MEMORY_ENGINE_TEST_INT", "42")
	if got := GetInt("MEMORY_ENGINE_TEST_INT", 7); got != 42 {
		t.Errorf("GetInt = %d, want 42", got)
	}
	t.Setenv("MEMORY_ENGINE_TEST_INT", "not-a-number")
	if got := GetInt("MEMORY_ENGINE_TEST_INT", 7); got != 7 {
		t.Errorf("GetInt on an unparsable value should fall back, got %d", got)
	}
}

func TestGetBoolParsing(t *testing.T) {
	t.Setenv("MEMORY_ENGINE_TEST_BOOL", "true")
	if got := GetBool("MEMORY_ENGINE_TEST_BOOL", false); !got {
		t.Error("GetBool should parse \"true\"")
	}
	if got := GetBool("MEMORY_ENGINE_UNSET_BOOL", true); !got {
		t.Error("GetBool on an unset key should return the default")
	}
}

func TestEnvLoaderValidate(t *testing.T) {
	e := NewEnvLoader()

	if err := e.Validate("unknown-backend"); err == nil {
		t.Error("Validate should reject an unknown storage type")
	}

	t.Setenv("SQLITE_PATH", "")
	if err := e.Validate("sqlite"); err == nil {
		t.Error("Validate(sqlite) should require SQLITE_PATH")
	}

	t.Setenv("SQLITE_PATH", "/tmp/memory.db")
	if err := e.Validate("sqlite"); err != nil {
		t.Errorf("Validate(sqlite) with SQLITE_PATH set should pass, got: %v", err)
	}
}
