package handle

import "strings"

// Rights is the set of operations a handle permits on its object.
type Rights uint32

const (
	// RightTransfer permits duplicating the handle or moving it to another
	// table.
	RightTransfer Rights = 1 << iota
	RightRead
	RightWrite
	RightExecute
	RightSignal
	// RightInterrupt permits binding guest functions to interrupt vectors.
	RightInterrupt
)

const (
	RightsNone Rights = 0
	RightsAll         = RightTransfer | RightRead | RightWrite | RightExecute | RightSignal | RightInterrupt
)

// Contains reports whether every right in other is also in r.
func (r Rights) Contains(other Rights) bool {
	return r&other == other
}

func (r Rights) String() string {
	if r == RightsNone {
		return "none"
	}
	names := []string{}
	for _, right := range []struct {
		bit  Rights
		name string
	}{
		{RightTransfer, "transfer"},
		{RightRead, "read"},
		{RightWrite, "write"},
		{RightExecute, "execute"},
		{RightSignal, "signal"},
		{RightInterrupt, "interrupt"},
	} {
		if r&right.bit != 0 {
			names = append(names, right.name)
		}
	}
	if extra := r &^ RightsAll; extra != 0 {
		names = append(names, "unknown")
	}
	return strings.Join(names, "|")
}
