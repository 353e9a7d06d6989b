package coorderrors

import (
	"errors"
	"testing"
	"time"
)

func TestNotFound(t *testing.T) {
	err := NotFound("agent", "agent-42")
	if err.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err.Kind)
	}
	if err.Entity != "agent-42" {
		t.Fatalf("expected entity agent-42, got %q", err.Entity)
	}
	if !IsKind(err, KindNotFound) {
		t.Fatal("expected IsKind to report true for KindNotFound")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindMarketplace, "call failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the original cause")
	}
}

func TestMarketplaceCarriesStatus(t *testing.T) {
	cause := errors.New("bad gateway")
	err := Marketplace("amazon-sp-api", 502, cause)

	if err.Kind != KindMarketplace {
		t.Fatalf("expected KindMarketplace, got %v", err.Kind)
	}
	if err.StatusCode != 502 {
		t.Fatalf("expected status 502, got %d", err.StatusCode)
	}
	if err.MarketplaceName != "amazon-sp-api" {
		t.Fatalf("expected marketplace name amazon-sp-api, got %q", err.MarketplaceName)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	err := RateLimit(30*time.Second, "too many requests")
	if err.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry-after 30s, got %v", err.RetryAfter)
	}
}

func TestCoordinationWithEntity(t *testing.T) {
	err := Coordination("task-1", "invalid transition from %s to %s", "Completed", "Processing")
	if err.Kind != KindCoordination {
		t.Fatalf("expected KindCoordination, got %v", err.Kind)
	}
	if err.Entity != "task-1" {
		t.Fatalf("expected entity task-1, got %q", err.Entity)
	}
}

func TestIsKindFalseForPlainError(t *testing.T) {
	plain := errors.New("boom")
	if IsKind(plain, KindCoordination) {
		t.Fatal("expected IsKind to be false for a non-CoordError")
	}
}

func TestIsComparesOnlyKind(t *testing.T) {
	a := New(KindValidation, "missing field foo")
	b := New(KindValidation, "missing field bar")
	if !errors.Is(a, b) {
		t.Fatal("expected two CoordErrors of the same kind to satisfy errors.Is")
	}

	c := New(KindNotFound, "missing field foo")
	if errors.Is(a, c) {
		t.Fatal("expected CoordErrors of different kinds to not satisfy errors.Is")
	}
}
