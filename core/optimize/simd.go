// Package optimize probes CPU features at startup. The probe itself has no
// assembly backing it in this tree — it exists to let the engine log what
// the host actually supports and to pick byte-pool tier boundaries
// (wider tiers are worth it on hosts with wide SIMD load/store paths)
// rather than to dispatch into hand-written AVX2/NEON routines.
package optimize

import "golang.org/x/sys/cpu"

var (
	useAVX2 bool
	useNEON bool
)

func init() {
	if cpu.ARM64.HasASIMD {
		useNEON = true
	}
	if cpu.X86.HasAVX2 {
		useAVX2 = true
	}
}

// Features summarizes the CPU capabilities detected at process start.
type Features struct {
	AVX2 bool
	NEON bool
}

// Detected returns the CPU features probed at init.
func Detected() Features {
	return Features{AVX2: useAVX2, NEON: useNEON}
}

// WideBufferTier returns the largest byte-pool size class worth
// pre-allocating: hosts with AVX2 or NEON copy wide buffers cheaply enough
// that it's worth keeping a 64KiB tier around in addition to the standard
// ladder, to cover a near-max-size request/response without falling back to
// a raw allocation.
func WideBufferTier() int {
	if useAVX2 || useNEON {
		return 65536
	}
	return 32768
}
