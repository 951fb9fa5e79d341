package pic

// LineInterrupt models an output line driven by the controller.
type LineInterrupt interface {
	SetLevel(high bool)
}

type detachedLine struct{}

func (detachedLine) SetLevel(bool) {}

// LineDetached returns a LineInterrupt that drops all signals.
func LineDetached() LineInterrupt {
	return detachedLine{}
}

// LineFromFunc adapts a level function to LineInterrupt.
func LineFromFunc(fn func(bool)) LineInterrupt {
	if fn == nil {
		return detachedLine{}
	}
	return lineFunc(fn)
}

type lineFunc func(bool)

func (f lineFunc) SetLevel(level bool) { f(level) }
