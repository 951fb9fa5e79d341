package irq

import (
	"github.com/tinyrange/kcore/internal/kobj"
	"github.com/tinyrange/kcore/internal/process"
)

// Capability is the kernel object behind an interrupt capability handle.
// Holding a handle to it with handle.RightInterrupt is what allows a
// process to install interrupt handlers.
type Capability struct {
	r *Redirector
}

func (r *Redirector) Capability() *Capability { return &Capability{r: r} }

func (c *Capability) ObjectKind() kobj.Kind { return kobj.KindInterrupt }

// SetHandler installs a handler through the capability's redirector.
func (c *Capability) SetHandler(vector, function uint32, ctx *process.VMContext) error {
	return c.r.SetHandler(vector, function, ctx)
}
