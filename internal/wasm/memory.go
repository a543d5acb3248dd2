package wasm

import (
	"github.com/dtvmgo/dtvm/internal/werr"
	"golang.org/x/sys/unix"
)

// MemoryStrategy selects how a MemoryRegion's backing bytes are reserved and
// grown (spec §4.6 "Linear-memory allocator").
type MemoryStrategy byte

const (
	// StrategyMalloc always works: grow allocates a new slice and copies.
	StrategyMalloc MemoryStrategy = iota
	// StrategyMmapBucket reserves a PROT_NONE region up front and grows by
	// mprotect, so growth never moves bytes or invalidates pointers.
	StrategyMmapBucket
)

// mmapBucketBytes is the fixed virtual-address reservation per mmap-bucket
// region (spec: "8 GiB per instance").
const mmapBucketBytes = 8 << 30

// MemoryRegion is the allocator's handle on one instance's linear memory.
// CurrentBytes of data is readable/writable; bytes beyond it, up to the
// region's capacity, are unmapped or PROT_NONE.
type MemoryRegion struct {
	Strategy     MemoryStrategy
	Bytes        []byte // len == cap == CurrentBytes for both strategies
	CurrentBytes uint64
	reserved     []byte // the full PROT_NONE mmap reservation, nil for malloc
}

// AllocInit reserves a region sized for initialBytes, using the mmap-bucket
// strategy when wantMmap is true and the host supports it, falling back to
// malloc otherwise.
func AllocInit(initialBytes uint64, wantMmap bool) (*MemoryRegion, *werr.Error) {
	if wantMmap {
		if r, err := allocMmapBucket(initialBytes); err == nil {
			return r, nil
		}
	}
	return allocMalloc(initialBytes)
}

func allocMalloc(initialBytes uint64) (*MemoryRegion, *werr.Error) {
	buf := make([]byte, initialBytes)
	return &MemoryRegion{Strategy: StrategyMalloc, Bytes: buf, CurrentBytes: initialBytes}, nil
}

func allocMmapBucket(initialBytes uint64) (*MemoryRegion, *werr.Error) {
	if initialBytes > mmapBucketBytes {
		return nil, werr.New(werr.PhaseInstantiation, werr.KindMemoryAllocFailed).WithExtra("initial size exceeds bucket capacity")
	}
	reservation, err := unix.Mmap(-1, 0, mmapBucketBytes, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, werr.New(werr.PhaseInstantiation, werr.KindMemoryAllocFailed).WithExtra("mmap reservation: %v", err)
	}
	if initialBytes > 0 {
		if err := unix.Mprotect(reservation[:initialBytes], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			_ = unix.Munmap(reservation)
			return nil, werr.New(werr.PhaseInstantiation, werr.KindMemoryAllocFailed).WithExtra("mprotect initial: %v", err)
		}
	}
	return &MemoryRegion{
		Strategy:     StrategyMmapBucket,
		Bytes:        reservation[:initialBytes:initialBytes],
		CurrentBytes: initialBytes,
		reserved:     reservation,
	}, nil
}

// Enlarge grows r to newBytes in place when possible. For a mmap-bucket
// region beyond its reservation cap, it falls back to malloc (copying
// bytes); this is the "switching out of the bucket strategy" case spec §4.6
// describes. Newly exposed bytes are always zero.
func (r *MemoryRegion) Enlarge(newBytes uint64) *werr.Error {
	if newBytes <= r.CurrentBytes {
		return nil
	}
	switch r.Strategy {
	case StrategyMmapBucket:
		if newBytes <= mmapBucketBytes {
			if err := unix.Mprotect(r.reserved[r.CurrentBytes:newBytes], unix.PROT_READ|unix.PROT_WRITE); err != nil {
				return werr.New(werr.PhaseExecution, werr.KindMemoryAllocFailed).WithExtra("mprotect grow: %v", err)
			}
			r.Bytes = r.reserved[:newBytes:newBytes]
			r.CurrentBytes = newBytes
			return nil
		}
		grown := make([]byte, newBytes)
		copy(grown, r.Bytes)
		if err := r.freeMmap(); err != nil {
			return err
		}
		r.Strategy = StrategyMalloc
		r.Bytes = grown
		r.CurrentBytes = newBytes
		return nil
	default: // StrategyMalloc
		grown := make([]byte, newBytes)
		copy(grown, r.Bytes)
		r.Bytes = grown
		r.CurrentBytes = newBytes
		return nil
	}
}

// Free releases r's backing bytes. For a malloc region this is a no-op; the
// garbage collector reclaims it. For a bucket region it unmaps the
// reservation.
func (r *MemoryRegion) Free() *werr.Error {
	if r.Strategy == StrategyMmapBucket {
		return r.freeMmap()
	}
	r.Bytes = nil
	return nil
}

func (r *MemoryRegion) freeMmap() *werr.Error {
	if r.reserved == nil {
		return nil
	}
	if err := unix.Munmap(r.reserved); err != nil {
		return werr.New(werr.PhaseExecution, werr.KindMemoryAllocFailed).WithExtra("munmap: %v", err)
	}
	r.reserved = nil
	return nil
}
