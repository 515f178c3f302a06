package runner

import (
	"github.com/notargets/SMCKernel/compute/host"
	"github.com/notargets/SMCKernel/runner/builder"
)

// Host implementations of the reorder kernels, so the in-process device can
// run the same copy program as OpenCL and OCCA devices
func init() {
	host.RegisterKernel(builder.CopyKernelName, hostCopy)
	host.RegisterKernel(builder.CopySnapshotKernelName, hostCopySnapshot)
}

// hostCopy is smc_copy(src_idx, state)
func hostCopy(inv *host.Invocation) {
	n, stateSize := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
	to := uint64(inv.GlobalID)
	if to >= n {
		return
	}
	from := inv.Uint64s(0)[to]
	if from == to {
		return
	}
	state := inv.Bytes(1)
	copy(state[to*stateSize:(to+1)*stateSize], state[from*stateSize:(from+1)*stateSize])
}

// hostCopySnapshot is smc_copy_snapshot(src_idx, snapshot, state)
func hostCopySnapshot(inv *host.Invocation) {
	n, stateSize := inv.MacroUint("SIZE"), inv.MacroUint("STATE_SIZE")
	to := uint64(inv.GlobalID)
	if to >= n {
		return
	}
	from := inv.Uint64s(0)[to]
	snapshot, state := inv.Bytes(1), inv.Bytes(2)
	copy(state[to*stateSize:(to+1)*stateSize], snapshot[from*stateSize:(from+1)*stateSize])
}
