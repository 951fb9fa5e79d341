package guest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/kcore/internal/guest/guesttest"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/process"
)

func loadHandlerModule(t *testing.T) *Module {
	t.Helper()
	m, err := Load("handlers.wasm", bytes.NewReader(guesttest.HandlerModule()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestLoadBuildsTable(t *testing.T) {
	m := loadHandlerModule(t)
	if m.TableSize() != guesttest.TableSize {
		t.Fatalf("TableSize = %d, want %d", m.TableSize(), guesttest.TableSize)
	}
	if m.table[guesttest.SlotEmpty] != emptySlot {
		t.Fatalf("slot %d initialized: %v", guesttest.SlotEmpty, m.table)
	}
	for slot := uint32(0); slot < guesttest.SlotEmpty; slot++ {
		if m.table[slot] != slot {
			t.Fatalf("table = %v", m.table)
		}
	}
}

func TestLoadWithoutTable(t *testing.T) {
	_, err := Load("notable.wasm", bytes.NewReader(guesttest.NoTableModule()))
	if !errors.Is(err, ErrNoTable) {
		t.Fatalf("Load = %v, want ErrNoTable", err)
	}
}

func TestLoadRejectsTableLimits(t *testing.T) {
	_, err := Load("huge.wasm", bytes.NewReader(guesttest.OversizedTableModule()))
	if !errors.Is(err, ErrTableLimits) {
		t.Fatalf("Load(oversized table) = %v, want ErrTableLimits", err)
	}
	if _, err := Load("inverted.wasm", bytes.NewReader(guesttest.InvertedTableModule())); err == nil {
		t.Fatalf("Load(minimum above maximum) succeeded")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load("junk.wasm", bytes.NewReader([]byte("not wasm"))); err == nil {
		t.Fatalf("expected error loading garbage")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbd.wasm")
	if err := os.WriteFile(path, guesttest.HandlerModule(), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m.Name() != "kbd.wasm" {
		t.Fatalf("Name = %q", m.Name())
	}
}

func TestTableFunctionResolution(t *testing.T) {
	inst, err := loadHandlerModule(t).Instantiate()
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	tests := []struct {
		slot uint32
		name string
		err  error
	}{
		{guesttest.SlotKeyboard, "keyboard", nil},
		{guesttest.SlotTimer, "timer", nil},
		{guesttest.SlotTrap, "handlers.wasm[3]", nil},
		{guesttest.SlotBadSignature, "", kerr.InvalidArgument},
		{guesttest.SlotEmpty, "", kerr.NotFound},
		{100, "", kerr.NotFound},
	}
	for _, tt := range tests {
		fn, err := inst.TableFunction(tt.slot)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Fatalf("TableFunction(%d) = %v, want %v", tt.slot, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("TableFunction(%d): %v", tt.slot, err)
		}
		if fn.Name != tt.name {
			t.Fatalf("TableFunction(%d).Name = %q, want %q", tt.slot, fn.Name, tt.name)
		}
	}

	a, _ := inst.TableFunction(guesttest.SlotKeyboard)
	b, _ := inst.TableFunction(guesttest.SlotKeyboard)
	if a != b {
		t.Fatalf("resolution not cached")
	}
}

func TestHandlerRunsInGuest(t *testing.T) {
	inst, err := loadHandlerModule(t).Instantiate()
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	ctx := process.New(1, "kbd", inst).Context()

	kbd, err := inst.TableFunction(guesttest.SlotKeyboard)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := kbd.Call(ctx); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if n, _ := inst.ReadUint32(guesttest.KeyboardCounter); n != 3 {
		t.Fatalf("keyboard counter = %d, want 3", n)
	}
	if n, _ := inst.ReadUint32(guesttest.TimerCounter); n != 0 {
		t.Fatalf("timer counter = %d, want 0", n)
	}
}

func TestTrapIsReturned(t *testing.T) {
	inst, err := loadHandlerModule(t).Instantiate()
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	fn, err := inst.TableFunction(guesttest.SlotTrap)
	if err != nil {
		t.Fatal(err)
	}
	if err := fn.Call(nil); err == nil {
		t.Fatalf("expected trap error")
	}

	// The instance stays usable after a trap.
	kbd, _ := inst.TableFunction(guesttest.SlotKeyboard)
	if err := kbd.Call(nil); err != nil {
		t.Fatalf("Call after trap: %v", err)
	}
}

func TestReadOutsideMemory(t *testing.T) {
	inst, err := loadHandlerModule(t).Instantiate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := inst.ReadUint32(1 << 20); !errors.Is(err, kerr.InvalidArgument) {
		t.Fatalf("ReadUint32 = %v, want InvalidArgument", err)
	}
}
