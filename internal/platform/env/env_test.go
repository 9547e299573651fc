package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("CRM_TEST_STRING", "  acme ")
	if got := String("CRM_TEST_STRING", "x"); got != "acme" {
		t.Fatalf("String = %q", got)
	}
	if got := String("CRM_TEST_MISSING", "x"); got != "x" {
		t.Fatalf("String fallback = %q", got)
	}
}

func TestIntAndDurationFallBackOnGarbage(t *testing.T) {
	t.Setenv("CRM_TEST_INT", "five")
	t.Setenv("CRM_TEST_DURATION", "-3s")
	if got := Int("CRM_TEST_INT", 5); got != 5 {
		t.Fatalf("Int = %d", got)
	}
	if got := Duration("CRM_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("Duration = %s", got)
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		raw      string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"1", false, true},
		{"false", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("CRM_TEST_BOOL", tt.raw)
			if got := Bool("CRM_TEST_BOOL", tt.fallback); got != tt.want {
				t.Fatalf("Bool(%q, %v) = %v, want %v", tt.raw, tt.fallback, got, tt.want)
			}
		})
	}
}
