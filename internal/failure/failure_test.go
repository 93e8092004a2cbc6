package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("outer: %w", New(Conflict, "lost race"))
	if got := KindOf(wrapped); got != Conflict {
		t.Fatalf("KindOf(wrapped) = %q", got)
	}
	if got := KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)); got != Timeout {
		t.Fatalf("deadline should be timeout, got %q", got)
	}
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("plain error should be internal, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("nil should have empty kind, got %q", got)
	}
}

func TestIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("ctx: %w", New(NotFound, "task %s", "x"))
	if !errors.Is(err, New(NotFound, "")) {
		t.Fatal("errors.Is should match by kind")
	}
	if errors.Is(err, New(Conflict, "")) {
		t.Fatal("errors.Is should not match other kinds")
	}
}

func TestWrapHidesCauseFromMessage(t *testing.T) {
	t.Parallel()

	cause := errors.New("pq: secret detail")
	fe := Wrap(Internal, cause, "store failed")
	if fe.Message != "store failed" {
		t.Fatalf("message leaked cause: %q", fe.Message)
	}
	if !errors.Is(fe, cause) {
		t.Fatal("cause should be reachable through Unwrap")
	}
}

func TestWithDetailsCopies(t *testing.T) {
	t.Parallel()

	base := New(SkillError, "upstream")
	withBody := base.WithDetails(map[string]any{"upstream_body": "bad"})
	if base.Details != nil {
		t.Fatal("WithDetails must not mutate receiver")
	}
	if withBody.Details["upstream_body"] != "bad" {
		t.Fatalf("details missing: %#v", withBody.Details)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Kind]int{
		Unauthenticated:        http.StatusUnauthorized,
		InactiveUser:           http.StatusUnauthorized,
		Forbidden:              http.StatusForbidden,
		RelationshipDisallowed: http.StatusForbidden,
		NotFound:               http.StatusNotFound,
		Validation:             http.StatusBadRequest,
		DepthExceeded:          http.StatusBadRequest,
		Conflict:               http.StatusConflict,
		ApprovalRequired:       http.StatusConflict,
		RateLimited:            http.StatusTooManyRequests,
		SkillError:             http.StatusBadGateway,
		LLMError:               http.StatusBadGateway,
		Timeout:                http.StatusGatewayTimeout,
		InstanceUnavailable:    http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{SkillError, LLMError, Timeout} {
		if !Retryable(k) {
			t.Fatalf("%s should be retryable", k)
		}
	}
	for _, k := range []Kind{RateLimited, CredentialMissing, InstanceUnavailable} {
		if Retryable(k) {
			t.Fatalf("%s should not be retryable", k)
		}
	}
}
