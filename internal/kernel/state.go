package kernel

import (
	"github.com/tinyrange/kcore/internal/handle"
	"github.com/tinyrange/kcore/internal/pic"
)

// State is a point-in-time snapshot for diagnostics.
type State struct {
	Processes []ProcessState
	Bindings  []BindingState
	PIC       pic.Stats

	Stray     uint64
	Faults    uint64
	Unhandled uint64
}

type ProcessState struct {
	PID     int
	Name    string
	Handles []HandleState
}

type HandleState struct {
	Index  uint32
	Kind   string
	Rights string
}

type BindingState struct {
	Vector     uint8
	Line       int
	Masked     bool
	Function   string
	PID        int
	Dispatches uint64
}

func (k *Kernel) State() State {
	var s State
	for _, p := range k.Processes() {
		ps := ProcessState{PID: p.PID(), Name: p.Name()}
		p.Handles().Each(func(index uint32, h *handle.Handle) {
			ps.Handles = append(ps.Handles, HandleState{
				Index:  index,
				Kind:   h.Kind().String(),
				Rights: h.Rights().String(),
			})
		})
		s.Processes = append(s.Processes, ps)
	}

	for _, b := range k.irq.Bindings() {
		bs := BindingState{
			Vector:     b.Vector,
			Line:       -1,
			Function:   b.Function,
			PID:        b.Context.Process().PID(),
			Dispatches: k.irq.Dispatches(b.Vector),
		}
		if line, ok := k.driver.Line(b.Vector); ok {
			bs.Line = int(line)
			bs.Masked = k.driver.Masked(line)
		}
		s.Bindings = append(s.Bindings, bs)
	}

	s.PIC = k.pic.Stats()
	s.Stray = k.irq.Stray()
	s.Faults = k.irq.Faults()
	s.Unhandled = k.idt.Unhandled()
	return s
}
