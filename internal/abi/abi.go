// Package abi implements the handle and interrupt system calls. Each call
// takes the calling process's VM context and returns a non-negative result
// or a negative kerr code.
package abi

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/kcore/internal/handle"
	"github.com/tinyrange/kcore/internal/irq"
	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/kobj"
	"github.com/tinyrange/kcore/internal/process"
)

// HandleClose removes handle h from the caller's table and drops its
// reference.
func HandleClose(ctx *process.VMContext, h uint32) int32 {
	hd, err := ctx.Process().Handles().Free(h)
	if err != nil {
		return result("handle_close", ctx, err)
	}
	hd.Release()
	return 0
}

// HandleDuplicate copies handle h with a subset of its rights and returns
// the new index.
func HandleDuplicate(ctx *process.VMContext, h uint32, rights uint32) int32 {
	index, err := ctx.Process().Handles().Duplicate(h, handle.Rights(rights))
	if err != nil {
		return result("handle_duplicate", ctx, err)
	}
	return int32(index)
}

// HandleTransfer moves handle h into the process referenced by procHandle,
// which must carry RightWrite. It returns the index in the receiver.
func HandleTransfer(ctx *process.VMContext, h, procHandle uint32, rights uint32) int32 {
	dst, err := lookup[*process.Process](ctx, procHandle, kobj.KindProcess, handle.RightWrite)
	if err != nil {
		return result("handle_transfer", ctx, err)
	}
	if dst.Exited() {
		return result("handle_transfer", ctx, fmt.Errorf("abi: receiver %s exited: %w", dst, kerr.BadState))
	}
	index, err := ctx.Process().Handles().Move(h, dst.Handles(), handle.Rights(rights))
	if err != nil {
		return result("handle_transfer", ctx, err)
	}
	return int32(index)
}

// SetIRQHandler binds vector to slot function of the caller's function
// table. capHandle must be an interrupt capability with RightInterrupt.
func SetIRQHandler(ctx *process.VMContext, capHandle, vector, function uint32) int32 {
	capability, err := lookup[*irq.Capability](ctx, capHandle, kobj.KindInterrupt, handle.RightInterrupt)
	if err != nil {
		return result("irq_set_handler", ctx, err)
	}
	if err := capability.SetHandler(vector, function, ctx); err != nil {
		return result("irq_set_handler", ctx, err)
	}
	return 0
}

// lookup fetches handle index from the caller's table and checks its kind
// and rights. A handle of the wrong kind or without want is AccessDenied.
func lookup[T kobj.Object](ctx *process.VMContext, index uint32, kind kobj.Kind, want handle.Rights) (T, error) {
	var zero T
	h, err := ctx.Process().Handles().Get(index)
	if err != nil {
		return zero, err
	}
	if h.Kind() != kind || !h.Rights().Contains(want) {
		return zero, fmt.Errorf("abi: handle %d is %s, want %s with %s: %w", index, h, kind, want, kerr.AccessDenied)
	}
	obj, ok := kobj.As[T](h.Ref())
	if !ok {
		return zero, fmt.Errorf("abi: handle %d: %w", index, kerr.WrongType)
	}
	return obj, nil
}

func result(call string, ctx *process.VMContext, err error) int32 {
	code := kerr.Code(err)
	slog.Debug("abi: syscall failed", "call", call, "pid", ctx.Process().PID(), "code", code, "error", err)
	return code
}
