package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := Wrap(KindSchema, "bad products payload", errors.New("missing field title"))
	wrapped := fmt.Errorf("normalize ref 42: %w", base)

	if KindOf(wrapped) != KindSchema {
		t.Errorf("expected schema kind through wrap, got %s", KindOf(wrapped))
	}
	if Retryable(wrapped) {
		t.Error("schema faults must not be retried")
	}
}

func TestUnclassifiedErrorIsTransient(t *testing.T) {
	err := errors.New("connection reset by peer")
	if KindOf(err) != KindTransient {
		t.Errorf("unclassified errors default to transient, got %s", KindOf(err))
	}
	if !Retryable(err) {
		t.Error("transient errors are retryable")
	}
}

func TestIs(t *testing.T) {
	err := New(KindAuth, "token exchange failed")
	if !Is(err, KindAuth) {
		t.Error("Is should match the fault kind")
	}
	if Is(err, KindNotFound) {
		t.Error("Is must not match a different kind")
	}
}
