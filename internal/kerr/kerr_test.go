package kerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"nil", nil, 0},
		{"bare", NotFound, -1},
		{"wrapped", fmt.Errorf("irq: vector 300: %w", InvalidArgument), -3},
		{"foreign", errors.New("boom"), BadState.Code()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Fatalf("Code(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrappedKindMatches(t *testing.T) {
	err := fmt.Errorf("handle: duplicate 3: %w", AccessDenied)
	if !errors.Is(err, AccessDenied) {
		t.Fatalf("errors.Is(%v, AccessDenied) = false", err)
	}
	if errors.Is(err, NotFound) {
		t.Fatalf("errors.Is(%v, NotFound) = true", err)
	}
	if AccessDenied.Error() != "access denied" {
		t.Fatalf("unexpected message %q", AccessDenied.Error())
	}
}
