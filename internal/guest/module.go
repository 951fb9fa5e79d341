// Package guest loads WebAssembly modules and runs their instances. A
// module's first table is the function table the kernel resolves interrupt
// handlers from.
package guest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-interpreter/wagon/validate"
	"github.com/go-interpreter/wagon/wasm"
	"github.com/tinyrange/kcore/internal/kobj"
)

var (
	ErrNoTable     = errors.New("guest: module has no function table")
	ErrImports     = errors.New("guest: module imports are not supported")
	ErrBadSegment  = errors.New("guest: element segment out of table bounds")
	ErrNoSuchTable = errors.New("guest: table slot is empty")
	ErrTableLimits = errors.New("guest: function table limits out of bounds")
)

// MaxTableSize bounds the declared size of a module's function table.
const MaxTableSize = 1 << 16

// emptySlot marks a table slot no element segment initialized.
const emptySlot = ^uint32(0)

// Module is a parsed and verified guest module.
type Module struct {
	name   string
	module *wasm.Module
	table  []uint32
	names  map[uint32]string
}

// LoadFile reads the module at path.
func LoadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guest: read %s: %w", path, err)
	}
	return Load(filepath.Base(path), bytes.NewReader(data))
}

// Load parses and verifies a binary module.
func Load(name string, r io.Reader) (*Module, error) {
	m, err := wasm.ReadModule(r, nil)
	if err != nil {
		return nil, fmt.Errorf("guest: parse %s: %w", name, err)
	}
	if m.Import != nil && len(m.Import.Entries) > 0 {
		return nil, fmt.Errorf("%w (%s imports %d entries)", ErrImports, name, len(m.Import.Entries))
	}
	if err := validate.VerifyModule(m); err != nil {
		return nil, fmt.Errorf("guest: verify %s: %w", name, err)
	}
	table, err := buildTable(m)
	if err != nil {
		return nil, fmt.Errorf("guest: %s: %w", name, err)
	}

	names := make(map[uint32]string)
	if m.Export != nil {
		for field, entry := range m.Export.Entries {
			if entry.Kind == wasm.ExternalFunction {
				names[entry.Index] = field
			}
		}
	}

	return &Module{
		name:   name,
		module: m,
		table:  table,
		names:  names,
	}, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) ObjectKind() kobj.Kind { return kobj.KindModule }

// TableSize is the number of slots in the first table.
func (m *Module) TableSize() int { return len(m.table) }

// buildTable lays the element segments targeting table 0 over a table of
// its declared initial size.
func buildTable(m *wasm.Module) ([]uint32, error) {
	if m.Table == nil || len(m.Table.Entries) == 0 {
		return nil, ErrNoTable
	}
	limits := m.Table.Entries[0].Limits
	if limits.Initial > MaxTableSize {
		return nil, fmt.Errorf("%w: %d slots, limit %d", ErrTableLimits, limits.Initial, MaxTableSize)
	}
	if limits.Flags&0x1 != 0 && limits.Initial > limits.Maximum {
		return nil, fmt.Errorf("%w: minimum %d above maximum %d", ErrTableLimits, limits.Initial, limits.Maximum)
	}
	table := make([]uint32, limits.Initial)
	for i := range table {
		table[i] = emptySlot
	}
	if m.Elements == nil {
		return table, nil
	}
	for _, seg := range m.Elements.Entries {
		if seg.Index != 0 {
			continue
		}
		v, err := m.ExecInitExpr(seg.Offset)
		if err != nil {
			return nil, fmt.Errorf("element offset: %w", err)
		}
		offset, ok := v.(int32)
		if !ok || offset < 0 || int(offset)+len(seg.Elems) > len(table) {
			return nil, ErrBadSegment
		}
		for i, fn := range seg.Elems {
			if int(fn) >= len(m.FunctionIndexSpace) {
				return nil, fmt.Errorf("element refers to function %d of %d", fn, len(m.FunctionIndexSpace))
			}
			table[int(offset)+i] = fn
		}
	}
	return table, nil
}

// function resolves slot to a function index and checks that its signature
// takes and returns nothing, the calling convention of interrupt handlers.
func (m *Module) function(slot uint32) (uint32, string, error) {
	if uint64(slot) >= uint64(len(m.table)) || m.table[slot] == emptySlot {
		return 0, "", fmt.Errorf("%w: slot %d", ErrNoSuchTable, slot)
	}
	index := m.table[slot]
	sig := m.module.FunctionIndexSpace[index].Sig
	if sig == nil || len(sig.ParamTypes) != 0 || len(sig.ReturnTypes) != 0 {
		return 0, "", fmt.Errorf("guest: slot %d: function %d has signature %s, want () -> ()", slot, index, describe(sig))
	}
	name, ok := m.names[index]
	if !ok {
		name = fmt.Sprintf("%s[%d]", m.name, index)
	}
	return index, name, nil
}

func describe(sig *wasm.FunctionSig) string {
	if sig == nil {
		return "<none>"
	}
	return fmt.Sprintf("%v -> %v", sig.ParamTypes, sig.ReturnTypes)
}
