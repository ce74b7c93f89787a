package logging

import "testing"

func TestNewValidLevel(t *testing.T) {
	l, err := New("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Error("expected debug level to be enabled")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewEnvFallback(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	l, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(0) {
		t.Error("expected info to be disabled at error level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("expected non-nil logger")
	}
}
