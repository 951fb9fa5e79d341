// Package guesttest provides a small hand-assembled guest module for tests.
package guesttest

// Table slots of HandlerModule.
const (
	SlotKeyboard     = 0 // increments the word at KeyboardCounter
	SlotTimer        = 1 // increments the word at TimerCounter
	SlotBadSignature = 2 // (i32) -> i32
	SlotTrap         = 3 // executes unreachable
	SlotEmpty        = 4 // never initialized
	TableSize        = 5
)

// Linear memory offsets of the handler counters.
const (
	KeyboardCounter = 0
	TimerCounter    = 4
)

// HandlerModule returns a module with one page of memory, a five slot
// function table and four functions: two counter-incrementing interrupt
// handlers exported as "keyboard" and "timer", one with the wrong signature
// and one that traps.
func HandlerModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

		// type: () -> (), (i32) -> i32
		0x01, 0x09, 0x02,
		0x60, 0x00, 0x00,
		0x60, 0x01, 0x7f, 0x01, 0x7f,

		// function: types of the four functions
		0x03, 0x05, 0x04, 0x00, 0x00, 0x01, 0x00,

		// table: anyfunc, min 5
		0x04, 0x04, 0x01, 0x70, 0x00, TableSize,

		// memory: min 1 page
		0x05, 0x03, 0x01, 0x00, 0x01,

		// export: "keyboard" = func 0, "timer" = func 1
		0x07, 0x14, 0x02,
		0x08, 'k', 'e', 'y', 'b', 'o', 'a', 'r', 'd', 0x00, 0x00,
		0x05, 't', 'i', 'm', 'e', 'r', 0x00, 0x01,

		// element: table 0 at offset 0 = [0, 1, 2, 3]
		0x09, 0x0a, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x04, 0x00, 0x01, 0x02, 0x03,

		// code
		0x0a, 0x2a, 0x04,
		// mem[0] += 1
		0x0f, 0x00,
		0x41, KeyboardCounter, 0x41, KeyboardCounter, 0x28, 0x02, 0x00,
		0x41, 0x01, 0x6a, 0x36, 0x02, 0x00, 0x0b,
		// mem[4] += 1
		0x0f, 0x00,
		0x41, TimerCounter, 0x41, TimerCounter, 0x28, 0x02, 0x00,
		0x41, 0x01, 0x6a, 0x36, 0x02, 0x00, 0x0b,
		// local.get 0
		0x04, 0x00, 0x20, 0x00, 0x0b,
		// unreachable
		0x03, 0x00, 0x00, 0x0b,
	}
}

// NoTableModule returns a valid module without a table.
func NoTableModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
	}
}

// OversizedTableModule returns a module declaring a 2^28 slot table and no
// elements.
func OversizedTableModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x04, 0x08, 0x01, 0x70, 0x00, 0x80, 0x80, 0x80, 0x80, 0x01,
	}
}

// InvertedTableModule returns a module whose table minimum of 4 exceeds its
// maximum of 2.
func InvertedTableModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x04, 0x05, 0x01, 0x70, 0x01, 0x04, 0x02,
	}
}
