package process

import (
	"errors"
	"testing"

	"github.com/tinyrange/kcore/internal/handle"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/kobj"
)

type stubInstance struct{}

func (stubInstance) TableFunction(slot uint32) (*Function, error) {
	return &Function{Index: slot, Call: func(*VMContext) error { return nil }}, nil
}

func TestReadInstance(t *testing.T) {
	p := New(1, "init", stubInstance{})
	if p.Context().Process() != p {
		t.Fatalf("context does not point back at its process")
	}

	var fn *Function
	err := p.ReadInstance(func(inst Instance) error {
		var err error
		fn, err = inst.TableFunction(4)
		return err
	})
	if err != nil || fn.Index != 4 {
		t.Fatalf("ReadInstance = %v, %v", fn, err)
	}
}

func TestExitReleasesHandles(t *testing.T) {
	p := New(2, "worker", stubInstance{})
	other := New(3, "peer", stubInstance{})
	ref := kobj.New(other)
	if _, err := p.Handles().Allocate(ref, handle.RightRead); err != nil {
		t.Fatal(err)
	}

	p.Exit()
	if !other.Exited() {
		t.Fatalf("last reference to peer not released on exit")
	}
	if p.Handles().Len() != 0 {
		t.Fatalf("handles survive exit")
	}
	if _, err := p.Handles().Allocate(kobj.New(New(4, "late", nil)), handle.RightRead); !errors.Is(err, kerr.BadState) {
		t.Fatalf("Allocate after exit = %v, want BadState", err)
	}
	err := p.ReadInstance(func(Instance) error { return nil })
	if !errors.Is(err, kerr.BadState) {
		t.Fatalf("ReadInstance after exit = %v, want BadState", err)
	}
	p.Exit()
}
