// Package kernel wires the capability tables, the emulated interrupt
// hardware and the redirection layer into a bootable kernel.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinyrange/kcore/internal/abi"
	"github.com/tinyrange/kcore/internal/config"
	"github.com/tinyrange/kcore/internal/guest"
	"github.com/tinyrange/kcore/internal/handle"
	"github.com/tinyrange/kcore/internal/idt"
	"github.com/tinyrange/kcore/internal/irq"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/kobj"
	"github.com/tinyrange/kcore/internal/pic"
	"github.com/tinyrange/kcore/internal/process"
)

type Kernel struct {
	pic    *pic.DualPIC
	driver *pic.Driver
	idt    *idt.Table
	irq    *irq.Redirector

	// capability is the kernel's own reference to the interrupt capability
	// object; grants clone it.
	capability *kobj.Ref

	// wake is signalled when the controller raises its ready line.
	wake chan struct{}

	// cpu serializes interrupt delivery.
	cpu sync.Mutex

	mu      sync.Mutex
	nextPID int
	procs   map[int]*kobj.Ref
}

// New programs a fresh controller pair with the vector offsets in cfg.
func New(cfg config.PICConfig) (*Kernel, error) {
	k := &Kernel{
		pic:     pic.NewDualPIC(),
		idt:     idt.NewTable(),
		wake:    make(chan struct{}, 1),
		nextPID: 1,
		procs:   make(map[int]*kobj.Ref),
	}

	driver, err := pic.NewDriver(k.pic, cfg.MasterOffset, cfg.SlaveOffset)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if err := driver.Init(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	k.driver = driver
	k.irq = irq.New(driver, k.idt)
	k.capability = kobj.New(k.irq.Capability())

	k.pic.SetReadyLine(pic.LineFromFunc(func(level bool) {
		if !level {
			return
		}
		select {
		case k.wake <- struct{}{}:
		default:
		}
	}))
	return k, nil
}

// Boot creates a kernel from a manifest, loading every process module and
// installing its boot-time interrupt bindings through the syscall layer.
func Boot(cfg config.Config) (*Kernel, error) {
	k, err := New(cfg.PIC)
	if err != nil {
		return nil, err
	}
	for _, pc := range cfg.Processes {
		if err := k.boot(pc); err != nil {
			k.Close()
			return nil, err
		}
	}
	slog.Info("kernel: booted", "processes", len(cfg.Processes), "abi", cfg.ABI)
	return k, nil
}

func (k *Kernel) boot(pc config.ProcessConfig) error {
	m, err := guest.LoadFile(pc.Module)
	if err != nil {
		return fmt.Errorf("kernel: process %q: %w", pc.Name, err)
	}
	inst, err := m.Instantiate()
	if err != nil {
		return fmt.Errorf("kernel: process %q: %w", pc.Name, err)
	}
	p := k.Spawn(pc.Name, inst)
	if !pc.Interrupt {
		return nil
	}
	capHandle, err := k.GrantInterrupt(p)
	if err != nil {
		return err
	}
	for _, b := range pc.IRQs {
		if code := abi.SetIRQHandler(p.Context(), capHandle, b.Vector, b.Function); code < 0 {
			return fmt.Errorf("kernel: process %q: bind vector %d to function %d: %w",
				pc.Name, b.Vector, b.Function, kerr.Error(-code))
		}
	}
	return nil
}

// Spawn creates a process running inst.
func (k *Kernel) Spawn(name string, inst process.Instance) *process.Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	pid := k.nextPID
	k.nextPID++
	p := process.New(pid, name, inst)
	k.procs[pid] = kobj.New(p)
	slog.Debug("kernel: spawned", "pid", pid, "name", name)
	return p
}

// GrantInterrupt gives p a handle to the interrupt capability and returns
// its index. An exited process cannot be granted anything.
func (k *Kernel) GrantInterrupt(p *process.Process) (uint32, error) {
	h, err := p.Handles().Allocate(k.capability.Clone(), handle.RightInterrupt|handle.RightTransfer)
	if err != nil {
		return 0, fmt.Errorf("kernel: grant interrupt to %s: %w", p, err)
	}
	return h, nil
}

// GrantProcess gives holder a handle to target with rights.
func (k *Kernel) GrantProcess(holder, target *process.Process, rights handle.Rights) (uint32, error) {
	k.mu.Lock()
	ref, ok := k.procs[target.PID()]
	if !ok {
		k.mu.Unlock()
		return 0, fmt.Errorf("kernel: pid %d: %w", target.PID(), kerr.NotFound)
	}
	ref = ref.Clone()
	k.mu.Unlock()

	h, err := holder.Handles().Allocate(ref, rights)
	if err != nil {
		return 0, fmt.Errorf("kernel: grant %s to %s: %w", target, holder, err)
	}
	return h, nil
}

// Process looks up a live process by name.
func (k *Kernel) Process(name string) (*process.Process, bool) {
	for _, p := range k.Processes() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Processes lists live processes by pid.
func (k *Kernel) Processes() []*process.Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*process.Process, 0, len(k.procs))
	for _, ref := range k.procs {
		p, _ := kobj.As[*process.Process](ref)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID() < out[j].PID() })
	return out
}

// Exit unbinds every vector owned by pid, masking their lines, and tears
// the process down.
func (k *Kernel) Exit(pid int) error {
	k.mu.Lock()
	ref, ok := k.procs[pid]
	delete(k.procs, pid)
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("kernel: pid %d: %w", pid, kerr.NotFound)
	}

	p, _ := kobj.As[*process.Process](ref)
	// Marked exited before release: SetHandler rechecks under the
	// redirector lock.
	p.Exit()
	released := k.irq.ReleaseContext(p.Context())
	ref.Release()
	slog.Debug("kernel: exited", "pid", pid, "vectors", released)
	return nil
}

// Raise pulses controller line, as a device signalling an edge.
func (k *Kernel) Raise(line uint8) error {
	if line >= pic.Lines {
		return fmt.Errorf("kernel: line %d out of range: %w", line, kerr.InvalidArgument)
	}
	k.pic.SetIRQ(line, true)
	k.pic.SetIRQ(line, false)
	return nil
}

// RaiseVector raises the controller line behind vector.
func (k *Kernel) RaiseVector(vector uint8) error {
	line, ok := k.driver.Line(vector)
	if !ok {
		return fmt.Errorf("kernel: vector %d has no controller line: %w", vector, kerr.InvalidArgument)
	}
	return k.Raise(line)
}

// Service delivers every interrupt the controller has pending and returns
// how many were delivered.
func (k *Kernel) Service() int {
	k.cpu.Lock()
	defer k.cpu.Unlock()

	delivered := 0
	for k.pic.Pending() {
		ok, vector := k.pic.Acknowledge()
		if !ok {
			continue
		}
		if !k.idt.Deliver(vector) {
			// No trampoline ran to end the interrupt.
			k.driver.Ack(vector)
		}
		delivered++
	}
	return delivered
}

// Run services interrupts as the controller raises them until ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	k.Service()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.wake:
			k.Service()
		}
	}
}

// Close exits every process and drops the kernel's capability reference.
func (k *Kernel) Close() {
	for _, p := range k.Processes() {
		_ = k.Exit(p.PID())
	}
	if k.capability != nil {
		k.capability.Release()
		k.capability = nil
	}
}

func (k *Kernel) Redirector() *irq.Redirector { return k.irq }

func (k *Kernel) Driver() *pic.Driver { return k.driver }

func (k *Kernel) PIC() *pic.DualPIC { return k.pic }

func (k *Kernel) IDT() *idt.Table { return k.idt }
