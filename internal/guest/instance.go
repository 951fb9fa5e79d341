package guest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-interpreter/wagon/exec"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/process"
)

const resolvedCacheSize = 64

// Instance is a running module. Calls into it are serialized.
type Instance struct {
	module *Module

	mu sync.Mutex
	vm *exec.VM

	resolved *lru.ARCCache
}

// Instantiate creates a fresh instance of m, running its start function if
// it has one.
func (m *Module) Instantiate() (*Instance, error) {
	vm, err := exec.NewVM(m.module)
	if err != nil {
		return nil, fmt.Errorf("guest: instantiate %s: %w", m.name, err)
	}
	vm.RecoverPanic = true

	cache, err := lru.NewARC(resolvedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Instance{
		module:   m,
		vm:       vm,
		resolved: cache,
	}, nil
}

func (i *Instance) Module() *Module { return i.module }

// TableFunction implements process.Instance. Table contents are fixed after
// instantiation, so resolutions are cached.
func (i *Instance) TableFunction(slot uint32) (*process.Function, error) {
	if v, ok := i.resolved.Get(slot); ok {
		return v.(*process.Function), nil
	}

	index, name, err := i.module.function(slot)
	if err != nil {
		if errors.Is(err, ErrNoSuchTable) {
			return nil, fmt.Errorf("%w: %w", err, kerr.NotFound)
		}
		return nil, fmt.Errorf("%w: %w", err, kerr.InvalidArgument)
	}

	fn := &process.Function{
		Name:  name,
		Index: index,
		Call: func(*process.VMContext) error {
			return i.Call(index)
		},
	}
	i.resolved.Add(slot, fn)
	return fn, nil
}

// Call runs function index with no arguments.
func (i *Instance) Call(index uint32) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guest: %s: trap in function %d: %v", i.module.name, index, r)
		}
	}()
	if _, err := i.vm.ExecCode(int64(index)); err != nil {
		return fmt.Errorf("guest: %s: function %d: %w", i.module.name, index, err)
	}
	return nil
}

// ReadUint32 reads a little-endian word from linear memory.
func (i *Instance) ReadUint32(offset uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	mem := i.vm.Memory()
	if uint64(offset)+4 > uint64(len(mem)) {
		return 0, fmt.Errorf("guest: read at %#x outside %d bytes of memory: %w", offset, len(mem), kerr.InvalidArgument)
	}
	return binary.LittleEndian.Uint32(mem[offset:]), nil
}

var _ process.Instance = (*Instance)(nil)
