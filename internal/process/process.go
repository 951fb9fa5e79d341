// Package process holds the per-process record: its capability table, its
// guest instance and the VM context handed to guest code.
package process

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/kcore/internal/handle"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/kobj"
)

// Function is a guest function resolved from an instance's function table.
type Function struct {
	Name  string
	Index uint32
	Call  func(ctx *VMContext) error
}

// Instance is the guest side of a process.
type Instance interface {
	// TableFunction resolves slot of the instance's first function table to
	// a function with the interrupt handler signature.
	TableFunction(slot uint32) (*Function, error)
}

// VMContext is the per-process context passed back to guest code entered
// from the kernel.
type VMContext struct {
	process *Process
}

func (c *VMContext) Process() *Process { return c.process }

type Process struct {
	pid     int
	name    string
	handles *handle.Table
	ctx     *VMContext

	mu       sync.RWMutex
	instance Instance

	exited atomic.Bool
}

func New(pid int, name string, inst Instance) *Process {
	p := &Process{
		pid:      pid,
		name:     name,
		handles:  handle.NewTable(),
		instance: inst,
	}
	p.ctx = &VMContext{process: p}
	return p
}

func (p *Process) PID() int { return p.pid }

func (p *Process) Name() string { return p.name }

func (p *Process) Handles() *handle.Table { return p.handles }

func (p *Process) Context() *VMContext { return p.ctx }

func (p *Process) ObjectKind() kobj.Kind { return kobj.KindProcess }

// ReadInstance calls fn with the instance under the read lock.
func (p *Process) ReadInstance(fn func(Instance) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.instance == nil || p.exited.Load() {
		return fmt.Errorf("process %d: no instance: %w", p.pid, kerr.BadState)
	}
	return fn(p.instance)
}

// SetInstance replaces the instance, as on exec.
func (p *Process) SetInstance(inst Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instance = inst
}

// Exit tears the process down: every handle it holds is released. Exit is
// idempotent.
func (p *Process) Exit() {
	if !p.exited.CompareAndSwap(false, true) {
		return
	}
	p.handles.Close()
	p.mu.Lock()
	p.instance = nil
	p.mu.Unlock()
	slog.Debug("process: exited", "pid", p.pid, "name", p.name)
}

func (p *Process) Exited() bool { return p.exited.Load() }

// Destroy is called when the last reference to the process is released.
func (p *Process) Destroy() { p.Exit() }

func (p *Process) String() string {
	return fmt.Sprintf("process(%d %q)", p.pid, p.name)
}

var (
	_ kobj.Object    = (*Process)(nil)
	_ kobj.Destroyer = (*Process)(nil)
)
