// Package idt models the interrupt descriptor table: 256 gates, each naming
// the entry point the CPU jumps to for a vector.
package idt

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Vectors is the number of descriptor table entries.
const Vectors = 256

// Frame is the state pushed by the CPU on interrupt entry.
type Frame struct {
	Vector uint8
}

// HandlerFunc is an interrupt entry point.
type HandlerFunc func(frame *Frame)

type gate struct {
	handler HandlerFunc
}

// Table is a descriptor table. Gates are read without locking on delivery;
// writers must hold the Guard returned by Lock.
type Table struct {
	mu    sync.Mutex
	gates [Vectors]atomic.Pointer[gate]

	unhandled atomic.Uint64
}

func NewTable() *Table {
	return &Table{}
}

// Guard grants exclusive write access to every gate of a table until
// Release.
type Guard struct {
	t        *Table
	released bool
}

// Lock acquires the table for writing. The caller must Release the guard,
// normally with defer.
func (t *Table) Lock() *Guard {
	t.mu.Lock()
	return &Guard{t: t}
}

// Set points gate vector at fn. A nil fn clears the gate.
func (g *Guard) Set(vector uint8, fn HandlerFunc) {
	if g.released {
		panic("idt: write through released guard")
	}
	if fn == nil {
		g.t.gates[vector].Store(nil)
		return
	}
	g.t.gates[vector].Store(&gate{handler: fn})
}

// Present reports whether gate vector has a handler.
func (g *Guard) Present(vector uint8) bool {
	return g.t.gates[vector].Load() != nil
}

func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.t.mu.Unlock()
}

// Present reports whether gate vector has a handler.
func (t *Table) Present(vector uint8) bool {
	return t.gates[vector].Load() != nil
}

// Deliver performs the CPU side of interrupt entry for vector: it loads the
// gate and calls its handler. It reports whether a handler ran; delivery to
// an empty gate is counted and otherwise ignored.
func (t *Table) Deliver(vector uint8) bool {
	g := t.gates[vector].Load()
	if g == nil {
		t.unhandled.Add(1)
		slog.Debug("idt: delivery to empty gate", "vector", vector)
		return false
	}
	g.handler(&Frame{Vector: vector})
	return true
}

// Unhandled reports how many deliveries found an empty gate.
func (t *Table) Unhandled() uint64 {
	return t.unhandled.Load()
}
