package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorMatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("unlock: %w", RecordWriteFailed("tx123", errors.New("connection reset")))

	if !errors.Is(err, ErrRecordWriteFailed) {
		t.Fatalf("expected errors.Is to match record write sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("record write failure must not match not found")
	}

	svcErr := GetServiceError(err)
	if svcErr == nil {
		t.Fatalf("expected service error in chain")
	}
	if svcErr.Details["reference"] != "tx123" {
		t.Fatalf("reference detail missing: %v", svcErr.Details)
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", HTTPStatus(err))
	}
}

func TestWithDetailsDoesNotMutateReceiver(t *testing.T) {
	base := NotFound("post", "p1")
	extended := base.WithDetails("viewer", "u1")

	if _, ok := base.Details["viewer"]; ok {
		t.Fatalf("receiver details were mutated")
	}
	if extended.Details["id"] != "p1" || extended.Details["viewer"] != "u1" {
		t.Fatalf("unexpected details: %v", extended.Details)
	}
}

func TestHTTPStatusDefaults(t *testing.T) {
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("plain errors should map to 500, got %d", got)
	}
	if got := HTTPStatus(SettlementRejected("insufficient_funds")); got != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", got)
	}
	if got := HTTPStatus(RateLimitExceeded(5, "1s")); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
}

func TestErrorStringOmitsNilCause(t *testing.T) {
	err := Validation("price must be positive")
	if err.Error() != "VALIDATION_FAILED: price must be positive" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
