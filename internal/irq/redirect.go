// Package irq lets guest instances handle hardware interrupts. A
// Redirector owns the vector-to-guest binding table and one trampoline per
// vector; the trampoline is what the descriptor table points at, and it
// forwards each delivery to the bound guest function.
package irq

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/kcore/internal/idt"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/process"
)

// Vectors is the number of redirectable vectors.
const Vectors = idt.Vectors

// Controller is the interrupt controller as seen by the redirection layer.
type Controller interface {
	// Ack signals end of interrupt for vector.
	Ack(vector uint8)
	// Line maps vector to a controller line, if it has one.
	Line(vector uint8) (uint8, bool)
	MaskSet(line uint8)
	MaskClear(line uint8)
}

type binding struct {
	fn  *process.Function
	ctx *process.VMContext
}

var nullHandler = &process.Function{
	Name: "null",
	Call: func(*process.VMContext) error { return nil },
}

// unbound is the binding of every vector that has never been installed.
var unbound = &binding{fn: nullHandler}

type Redirector struct {
	// mu serializes installers. Trampolines never take it.
	mu sync.Mutex

	ctrl Controller
	idt  *idt.Table

	bindings    [Vectors]atomic.Pointer[binding]
	trampolines [Vectors]idt.HandlerFunc

	dispatches [Vectors]atomic.Uint64
	stray      atomic.Uint64
	faults     atomic.Uint64
}

func New(ctrl Controller, descriptors *idt.Table) *Redirector {
	r := &Redirector{
		ctrl: ctrl,
		idt:  descriptors,
	}
	for v := 0; v < Vectors; v++ {
		r.bindings[v].Store(unbound)
		vector := uint8(v)
		r.trampolines[v] = func(*idt.Frame) { r.dispatch(vector) }
	}
	return r
}

// Trampoline returns the entry point installed in the descriptor table for
// vector.
func (r *Redirector) Trampoline(vector uint8) idt.HandlerFunc {
	return r.trampolines[vector]
}

// dispatch is the body shared by every trampoline. The controller is
// acknowledged before the handler runs so its state is consistent even if
// the handler faults.
func (r *Redirector) dispatch(vector uint8) {
	r.ctrl.Ack(vector)

	b := r.bindings[vector].Load()
	if b == unbound {
		r.stray.Add(1)
		return
	}
	r.dispatches[vector].Add(1)
	if err := b.fn.Call(b.ctx); err != nil {
		r.faults.Add(1)
		slog.Warn("irq: handler fault", "vector", vector, "function", b.fn.Name, "error", err)
	}
}

// SetHandler binds vector to slot function of the first function table of
// the instance behind ctx, points the descriptor table at the vector's
// trampoline and unmasks the controller line, in that order. A vector that
// is already bound is masked while it is rewritten.
//
// Out of range vectors, functions that do not resolve to a valid handler and
// contexts of exited processes are rejected without touching any state.
func (r *Redirector) SetHandler(vector, function uint32, ctx *process.VMContext) error {
	if vector >= Vectors {
		return fmt.Errorf("irq: vector %d out of range: %w", vector, kerr.InvalidArgument)
	}
	if ctx == nil {
		return fmt.Errorf("irq: vector %d: nil context: %w", vector, kerr.InvalidArgument)
	}

	var fn *process.Function
	err := ctx.Process().ReadInstance(func(inst process.Instance) error {
		var err error
		fn, err = inst.TableFunction(function)
		return err
	})
	if err != nil {
		return fmt.Errorf("irq: vector %d: resolve function %d: %w", vector, function, err)
	}

	v := uint8(vector)

	r.mu.Lock()
	defer r.mu.Unlock()

	// An exiting process may have been released while fn was resolved.
	// Exit marks the process before ReleaseContext takes mu.
	if ctx.Process().Exited() {
		return fmt.Errorf("irq: vector %d: %s exited: %w", vector, ctx.Process(), kerr.BadState)
	}

	line, hasLine := r.ctrl.Line(v)
	rebind := r.bindings[v].Load() != unbound
	if rebind && hasLine {
		r.ctrl.MaskSet(line)
	}

	r.bindings[v].Store(&binding{fn: fn, ctx: ctx})
	r.installGate(v)

	if hasLine {
		r.ctrl.MaskClear(line)
	}

	slog.Debug("irq: bound vector",
		"vector", v,
		"function", fn.Name,
		"pid", ctx.Process().PID(),
		"line", line,
		"hasLine", hasLine,
		"rebind", rebind,
	)
	return nil
}

// ReleaseContext masks and unbinds every vector bound to ctx, returning how
// many were released. The descriptor gates keep pointing at their
// trampolines, which now dispatch to the null handler.
func (r *Redirector) ReleaseContext(ctx *process.VMContext) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for v := 0; v < Vectors; v++ {
		b := r.bindings[v].Load()
		if b == unbound || b.ctx != ctx {
			continue
		}
		if line, ok := r.ctrl.Line(uint8(v)); ok {
			r.ctrl.MaskSet(line)
		}
		r.bindings[v].Store(unbound)
		released++
	}
	return released
}

func (r *Redirector) installGate(vector uint8) {
	g := r.idt.Lock()
	defer g.Release()
	g.Set(vector, r.trampolines[vector])
}

// Binding describes the current binding of a vector.
type Binding struct {
	Vector   uint8
	Function string
	Context  *process.VMContext
}

// Lookup reports the binding of vector, if any.
func (r *Redirector) Lookup(vector uint8) (Binding, bool) {
	b := r.bindings[vector].Load()
	if b == unbound {
		return Binding{}, false
	}
	return Binding{Vector: vector, Function: b.fn.Name, Context: b.ctx}, true
}

// Bindings lists every bound vector in ascending order.
func (r *Redirector) Bindings() []Binding {
	var out []Binding
	for v := 0; v < Vectors; v++ {
		if b, ok := r.Lookup(uint8(v)); ok {
			out = append(out, b)
		}
	}
	return out
}

// Dispatches reports how many deliveries for vector reached a bound
// handler.
func (r *Redirector) Dispatches(vector uint8) uint64 {
	return r.dispatches[vector].Load()
}

// Stray reports deliveries that found their vector unbound.
func (r *Redirector) Stray() uint64 { return r.stray.Load() }

// Faults reports handler invocations that returned an error.
func (r *Redirector) Faults() uint64 { return r.faults.Load() }
