// Package pic models the cascaded pair of 8259A interrupt controllers and
// the kernel driver that programs them.
package pic

import (
	"fmt"
	"math/bits"
	"sync"
)

const (
	PrimaryCommandPort   uint16 = 0x20
	PrimaryDataPort      uint16 = 0x21
	SecondaryCommandPort uint16 = 0xa0
	SecondaryDataPort    uint16 = 0xa1
	PrimaryELCRPort      uint16 = 0x4d0
	SecondaryELCRPort    uint16 = 0x4d1

	// CascadeLine is the primary input wired to the secondary's output.
	CascadeLine = 2
	// Lines is the number of inputs across both controllers.
	Lines = 16

	lineMask     = 0x7
	spuriousLine = 7
)

// Stats counts acknowledge cycles.
type Stats struct {
	Acknowledges uint64
	Spurious     uint64
	PerLine      [Lines]uint64
}

// DualPIC emulates the classic pair of cascaded 8259A controllers. Devices
// drive its inputs with SetIRQ; the CPU side observes the ready line and runs
// acknowledge cycles with Acknowledge; the kernel programs it through I/O
// ports.
type DualPIC struct {
	mu    sync.Mutex
	ready LineInterrupt

	chips [2]*chip

	stats Stats
}

func NewDualPIC() *DualPIC {
	return &DualPIC{
		ready: LineDetached(),
		chips: [2]*chip{
			newChip(true),
			newChip(false),
		},
	}
}

// SetReadyLine sets the line raised while an unmasked interrupt is pending.
func (p *DualPIC) SetReadyLine(line LineInterrupt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == nil {
		line = LineDetached()
	}
	p.ready = line
	p.syncOutputsLocked()
}

// SetIRQ drives input line (0-15) to level.
func (p *DualPIC) SetIRQ(line uint8, level bool) {
	if line >= Lines {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		p.chips[1].setIRQ(line-8, level)
	} else {
		p.chips[0].setIRQ(line, level)
	}
	p.syncOutputsLocked()
}

// Pending reports whether the ready line is currently asserted.
func (p *DualPIC) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chips[0].interruptPending()
}

// Acknowledge runs an interrupt acknowledge cycle. It returns whether a real
// interrupt was pending and the vector to deliver; when nothing is pending
// the vector is the spurious vector of the responding controller.
func (p *DualPIC) Acknowledge() (bool, uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.syncOutputsLocked()

	requested, vec := p.chips[0].acknowledge()
	if !requested {
		p.stats.Spurious++
		return false, vec
	}
	line := vec & lineMask
	if line == CascadeLine {
		secRequested, secVec := p.chips[1].acknowledge()
		if !secRequested {
			p.stats.Spurious++
			return false, secVec
		}
		vec = secVec
		line = 8 + secVec&lineMask
	}
	p.stats.Acknowledges++
	p.stats.PerLine[line]++
	return true, vec
}

// Stats returns a copy of the acknowledge counters.
func (p *DualPIC) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ReadIOPort implements PortIO.
func (p *DualPIC) ReadIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic: invalid read size %d", len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case PrimaryCommandPort:
		data[0] = p.chips[0].readCommand()
	case PrimaryDataPort:
		data[0] = p.chips[0].imr
	case SecondaryCommandPort:
		data[0] = p.chips[1].readCommand()
	case SecondaryDataPort:
		data[0] = p.chips[1].imr
	case PrimaryELCRPort:
		data[0] = p.chips[0].elcr
	case SecondaryELCRPort:
		data[0] = p.chips[1].elcr
	default:
		return fmt.Errorf("pic: invalid read port 0x%04x", port)
	}
	// Polling acknowledges an interrupt and may drop the ready line.
	p.syncOutputsLocked()
	return nil
}

// WriteIOPort implements PortIO.
func (p *DualPIC) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic: invalid write size %d", len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case PrimaryCommandPort:
		p.chips[0].writeCommand(data[0])
	case PrimaryDataPort:
		p.chips[0].writeData(data[0])
	case SecondaryCommandPort:
		p.chips[1].writeCommand(data[0])
	case SecondaryDataPort:
		p.chips[1].writeData(data[0])
	case PrimaryELCRPort:
		p.chips[0].elcr = data[0]
	case SecondaryELCRPort:
		p.chips[1].elcr = data[0]
	default:
		return fmt.Errorf("pic: invalid write port 0x%04x", port)
	}

	p.syncOutputsLocked()
	return nil
}

func (p *DualPIC) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("PIC(primary=%v, secondary=%v)", p.chips[0], p.chips[1])
}

func (p *DualPIC) syncOutputsLocked() {
	p.chips[0].setIRQ(CascadeLine, p.chips[1].interruptPending())
	p.ready.SetLevel(p.chips[0].interruptPending())
}

// chip models a single 8259A.
type chip struct {
	primary bool

	initStage initStage
	icw2      byte
	imr       byte
	isr       byte
	elcr      byte
	ocw3      ocw3

	// lines holds the current input levels, edges the rising edges latched
	// since the last acknowledge of that line.
	lines byte
	edges byte

	specialMask bool
}

func newChip(primary bool) *chip {
	icw2 := byte(0)
	if !primary {
		icw2 = 8
	}
	return &chip{
		primary:   primary,
		initStage: initUninitialized,
		icw2:      icw2,
	}
}

// reset restarts initialization. Input levels and ELCR survive, latched
// requests do not.
func (c *chip) reset() {
	*c = chip{
		primary:   c.primary,
		initStage: initUninitialized,
		icw2:      c.icw2,
		elcr:      c.elcr,
		lines:     c.lines,
	}
}

func (c *chip) String() string {
	return fmt.Sprintf("{base=%#x imr=%08b isr=%08b irr=%08b}", c.icw2, c.imr, c.isr, c.irr())
}

// levelMask reports which inputs are level triggered. The cascade input
// always follows the secondary's output.
func (c *chip) levelMask() byte {
	m := c.elcr
	if c.primary {
		m |= 1 << CascadeLine
	}
	return m
}

func (c *chip) irr() byte {
	level := c.levelMask()
	return (c.lines & level) | (c.edges &^ level)
}

func (c *chip) setIRQ(line uint8, high bool) {
	bit := byte(1 << line)
	if high {
		if c.lines&bit == 0 {
			c.edges |= bit
		}
		c.lines |= bit
	} else {
		c.lines &^= bit
	}
}

// readyVec is the set of requests the chip would deliver. Fully nested mode
// blocks every line at or below the highest priority in-service line;
// special mask mode only blocks the in-service lines themselves.
func (c *chip) readyVec() byte {
	requested := c.irr() &^ c.imr
	if c.specialMask {
		return requested &^ c.isr
	}
	higherThanISR := lowestSetBit(c.isr) - 1
	return requested & higherThanISR
}

func (c *chip) interruptPending() bool {
	return c.readyVec() != 0
}

func (c *chip) acknowledge() (bool, uint8) {
	vec := c.readyVec()
	if vec == 0 {
		return false, c.icw2 | spuriousLine
	}
	line := byte(bits.TrailingZeros8(vec))
	bit := byte(1 << line)
	c.edges &^= bit
	c.isr |= bit
	return true, c.icw2 | line
}

func (c *chip) eoi(line *byte) {
	if line != nil {
		c.isr &^= 1 << *line
		return
	}
	c.isr &^= lowestSetBit(c.isr)
}

func (c *chip) readCommand() byte {
	if c.ocw3.poll() {
		c.ocw3.setPoll(false)
		requested, vec := c.acknowledge()
		val := vec & lineMask
		if requested {
			val |= 1 << 7
		}
		return val
	}
	if c.ocw3.rr() {
		if c.ocw3.ris() {
			return c.isr
		}
		return c.irr()
	}
	return 0
}

func (c *chip) writeCommand(value byte) {
	const (
		initBit    = 0x10
		commandBit = 0x08
	)

	if value&initBit != 0 {
		c.reset()
		c.initStage = initExpectingICW2
		return
	}

	if c.initStage != initInitialized {
		return
	}

	if value&commandBit == 0 {
		ocw := ocw2(value)
		switch {
		case ocw.EOI() && ocw.SL():
			line := ocw.Level()
			c.eoi(&line)
		case ocw.EOI():
			c.eoi(nil)
		}
		return
	}

	ocw := ocw3(value)
	if ocw.specialMaskEnabled() {
		c.specialMask = ocw.specialMask()
	}
	c.ocw3 = ocw
}

func (c *chip) writeData(value byte) {
	switch c.initStage {
	case initUninitialized, initInitialized:
		c.imr = value
	case initExpectingICW2:
		if value&lineMask != 0 {
			return
		}
		c.icw2 = value
		c.initStage = initExpectingICW3
	case initExpectingICW3:
		if c.primary {
			if value != 1<<CascadeLine {
				return
			}
		} else if value != CascadeLine {
			return
		}
		c.initStage = initExpectingICW4
	case initExpectingICW4:
		if value != 1 && value != 3 {
			return
		}
		c.initStage = initInitialized
	}
}

type initStage int

const (
	initUninitialized initStage = iota
	initExpectingICW2
	initExpectingICW3
	initExpectingICW4
	initInitialized
)

type ocw2 byte

func (o ocw2) Level() byte { return byte(o) & lineMask }
func (o ocw2) SL() bool    { return byte(o)&0x40 != 0 }
func (o ocw2) EOI() bool   { return byte(o)&0x20 != 0 }

type ocw3 byte

func (o ocw3) rr() bool  { return byte(o)&0x02 != 0 }
func (o ocw3) ris() bool { return byte(o)&0x01 != 0 }
func (o ocw3) poll() bool {
	return byte(o)&0x04 != 0
}
func (o *ocw3) setPoll(v bool) {
	if v {
		*o |= 0x04
	} else {
		*o &^= 0x04
	}
}
func (o ocw3) specialMask() bool        { return byte(o)&0x20 != 0 }
func (o ocw3) specialMaskEnabled() bool { return byte(o)&0x40 != 0 }

func lowestSetBit(b byte) byte {
	return b & byte(-int8(b))
}
