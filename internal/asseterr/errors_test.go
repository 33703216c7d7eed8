package asseterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinel(t *testing.T) {
	err := Wrap(KindNetwork, "download", "https://cdn.local/a.png", errors.New("timeout"))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork match, got %v", err)
	}
	if errors.Is(err, ErrParse) {
		t.Fatalf("network error must not match ErrParse")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if !Is(wrapped, KindNetwork) {
		t.Fatalf("expected wrapped error to keep its kind")
	}
	if KindOf(wrapped) != KindNetwork {
		t.Fatalf("unexpected kind %q", KindOf(wrapped))
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindUnsupportedFormat, "download", "", "webp unsupported")
	if err.Error() != "download: webp unsupported" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Wrap(KindParse, "read", "a.json", nil) != nil {
		t.Fatalf("wrapping nil should return nil")
	}
}
