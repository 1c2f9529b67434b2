package software

import (
	"fmt"
	"sort"
	"sync"
)

// The first address handed out by the allocator. Address zero is reserved
// as the null device address.
const addressSpaceBase = 0x10000

type allocation struct {
	Address uint64
	Size    uint64
}

func (a *allocation) String() string {
	return fmt.Sprintf("[0x%x %d]", a.Address, a.Size)
}

func (a *allocation) end() uint64 {
	return a.Address + a.Size
}

// addressSpace is a first-fit allocator over the emulated device address
// range. Allocations are kept sorted by address so lookups can binary
// search.
type addressSpace struct {
	sync.RWMutex

	base   uint64
	limit  uint64
	allocs []*allocation
	owners map[*allocation]*buffer
}

func newAddressSpace(size uint64) *addressSpace {
	return &addressSpace{
		base:   addressSpaceBase,
		limit:  addressSpaceBase + size,
		owners: make(map[*allocation]*buffer),
	}
}

func alignUp(a uint64, align uint64) uint64 {
	if align <= 1 {
		return a
	}
	m := a % align
	if m == 0 {
		return a
	}
	return (a - m) + align
}

// Reserve size bytes at an address that is skew bytes past a multiple of
// align. Returns nil if the space is exhausted.
func (s *addressSpace) allocate(size, align, skew uint64, owner *buffer) *allocation {
	s.Lock()
	defer s.Unlock()

	if size == 0 {
		size = 1
	}

	// Walk the gaps between existing allocations and pick the first one
	// that fits.
	cursor := s.base
	insertAt := len(s.allocs)
	var addr uint64
	found := false
	for i, a := range s.allocs {
		l := alignUp(cursor, align) + skew
		if l+size <= a.Address {
			addr, insertAt, found = l, i, true
			break
		}
		cursor = a.end()
	}
	if !found {
		l := alignUp(cursor, align) + skew
		if l+size > s.limit || l+size < l {
			return nil
		}
		addr = l
	}

	na := &allocation{Address: addr, Size: size}
	s.allocs = append(s.allocs, nil)
	copy(s.allocs[insertAt+1:], s.allocs[insertAt:])
	s.allocs[insertAt] = na
	s.owners[na] = owner
	return na
}

func (s *addressSpace) free(fa *allocation) {
	s.Lock()
	defer s.Unlock()

	for i, a := range s.allocs {
		if a == fa {
			s.allocs = append(s.allocs[:i], s.allocs[i+1:]...)
			delete(s.owners, fa)
			return
		}
	}
}

// Resolve an address to the buffer containing it and the offset within.
func (s *addressSpace) resolve(addr uint64) (*buffer, uint64, bool) {
	s.RLock()
	defer s.RUnlock()

	i := sort.Search(len(s.allocs), func(i int) bool {
		return s.allocs[i].end() > addr
	})
	if i == len(s.allocs) || s.allocs[i].Address > addr {
		return nil, 0, false
	}
	a := s.allocs[i]
	return s.owners[a], addr - a.Address, true
}

// Total number of allocated bytes.
func (s *addressSpace) used() uint64 {
	s.Lock()
	defer s.Unlock()

	var total uint64
	for _, a := range s.allocs {
		total += a.Size
	}
	return total
}

func (s *addressSpace) String() string {
	s.Lock()
	defer s.Unlock()
	return fmt.Sprintf("%v", s.allocs)
}
