package pic

import (
	"fmt"
	"log/slog"
	"sync"
)

const (
	DefaultPrimaryOffset   uint8 = 0x20
	DefaultSecondaryOffset uint8 = 0x28

	icw1Init = 0x11 // edge triggered, cascaded, ICW4 follows
	icw4x86  = 0x01
	ocw2EOI  = 0x20 // non-specific end of interrupt
)

// PortIO is byte-wide access to the controller's I/O ports.
type PortIO interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// Driver is the kernel's view of the controller pair: it remaps the vector
// bases, masks and unmasks lines and signals end of interrupt.
type Driver struct {
	mu sync.Mutex
	io PortIO

	primaryOffset   uint8
	secondaryOffset uint8
}

// NewDriver returns a driver for controllers reached through io. The
// offsets are the vectors of line 0 and line 8 and must be 8-aligned.
func NewDriver(io PortIO, primaryOffset, secondaryOffset uint8) (*Driver, error) {
	if primaryOffset&lineMask != 0 || secondaryOffset&lineMask != 0 {
		return nil, fmt.Errorf("pic: vector offsets %#x/%#x are not 8-aligned", primaryOffset, secondaryOffset)
	}
	if primaryOffset == secondaryOffset {
		return nil, fmt.Errorf("pic: primary and secondary share vector offset %#x", primaryOffset)
	}
	return &Driver{
		io:              io,
		primaryOffset:   primaryOffset,
		secondaryOffset: secondaryOffset,
	}, nil
}

// Init runs the initialization sequence on both controllers and masks every
// line.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq := []struct {
		port  uint16
		value byte
	}{
		{PrimaryCommandPort, icw1Init},
		{SecondaryCommandPort, icw1Init},
		{PrimaryDataPort, d.primaryOffset},
		{SecondaryDataPort, d.secondaryOffset},
		{PrimaryDataPort, 1 << CascadeLine},
		{SecondaryDataPort, CascadeLine},
		{PrimaryDataPort, icw4x86},
		{SecondaryDataPort, icw4x86},
		{PrimaryDataPort, 0xff},
		{SecondaryDataPort, 0xff},
	}
	for _, w := range seq {
		if err := d.outb(w.port, w.value); err != nil {
			return fmt.Errorf("pic: init: %w", err)
		}
	}
	slog.Debug("pic: initialized", "primary", d.primaryOffset, "secondary", d.secondaryOffset)
	return nil
}

// Line maps a vector to the controller line that raises it.
func (d *Driver) Line(vector uint8) (uint8, bool) {
	switch {
	case vector >= d.primaryOffset && vector-d.primaryOffset < 8:
		return vector - d.primaryOffset, true
	case vector >= d.secondaryOffset && vector-d.secondaryOffset < 8:
		return 8 + vector - d.secondaryOffset, true
	default:
		return 0, false
	}
}

// Vector is the inverse of Line.
func (d *Driver) Vector(line uint8) (uint8, bool) {
	switch {
	case line < 8:
		return d.primaryOffset + line, true
	case line < Lines:
		return d.secondaryOffset + line - 8, true
	default:
		return 0, false
	}
}

// MaskClear unmasks line. Unmasking a secondary line also unmasks the
// cascade input on the primary.
func (d *Driver) MaskClear(line uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line >= Lines {
		return
	}
	if line >= 8 {
		d.updateMask(SecondaryDataPort, line-8, false)
		d.updateMask(PrimaryDataPort, CascadeLine, false)
		return
	}
	d.updateMask(PrimaryDataPort, line, false)
}

// MaskSet masks line.
func (d *Driver) MaskSet(line uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line >= Lines {
		return
	}
	if line >= 8 {
		d.updateMask(SecondaryDataPort, line-8, true)
		return
	}
	d.updateMask(PrimaryDataPort, line, true)
}

// Masked reports whether line is currently masked.
func (d *Driver) Masked(line uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	port, bit := PrimaryDataPort, line
	if line >= 8 {
		port, bit = SecondaryDataPort, line-8
	}
	imr, err := d.inb(port)
	if err != nil {
		return true
	}
	return imr&(1<<bit) != 0
}

// Ack signals end of interrupt for vector. Secondary vectors are
// acknowledged on both controllers; vectors outside the controller window
// need no acknowledge.
func (d *Driver) Ack(vector uint8) {
	line, ok := d.Line(vector)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if line >= 8 {
		if err := d.outb(SecondaryCommandPort, ocw2EOI); err != nil {
			slog.Error("pic: secondary EOI", "error", err)
		}
	}
	if err := d.outb(PrimaryCommandPort, ocw2EOI); err != nil {
		slog.Error("pic: primary EOI", "error", err)
	}
}

func (d *Driver) updateMask(port uint16, bit uint8, masked bool) {
	imr, err := d.inb(port)
	if err != nil {
		slog.Error("pic: read mask", "port", port, "error", err)
		return
	}
	if masked {
		imr |= 1 << bit
	} else {
		imr &^= 1 << bit
	}
	if err := d.outb(port, imr); err != nil {
		slog.Error("pic: write mask", "port", port, "error", err)
	}
}

func (d *Driver) inb(port uint16) (byte, error) {
	var buf [1]byte
	if err := d.io.ReadIOPort(port, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Driver) outb(port uint16, value byte) error {
	return d.io.WriteIOPort(port, []byte{value})
}
