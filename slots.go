package tinycan

// SlotCategory distinguishes the two slot pools a device exposes.
type SlotCategory int

const (
	SlotFilter SlotCategory = iota
	SlotInterval
)

// SlotAllocator tracks which filter slots and interval transmit buffer
// slots of a device are in use and hands out the lowest free one. Slot
// numbering starts at 1, sub-index 0 is the default FIFO and never
// allocated here. Capacities become known after device open, allocation
// before that fails with [ErrNoFreeSlot].
//
// There is no release path: a slot stays recorded once marked. Mutation is
// serialized by the owning driver session.
type SlotAllocator struct {
	maxFilters    int
	maxIntervals  int
	usedFilters   map[uint16]bool
	usedIntervals map[uint16]bool
}

func NewSlotAllocator() *SlotAllocator {
	return &SlotAllocator{
		usedFilters:   make(map[uint16]bool),
		usedIntervals: make(map[uint16]bool),
	}
}

// SetCapacities sets the upper bounds reported by the device at open time.
func (a *SlotAllocator) SetCapacities(maxFilters int, maxIntervals int) {
	a.maxFilters = maxFilters
	a.maxIntervals = maxIntervals
}

// AllocateFilterSlot returns the lowest filter slot in [1, maxFilters] not
// in use. The slot is not recorded, callers mark it once the native call
// that claims it succeeded.
func (a *SlotAllocator) AllocateFilterSlot() (Index, error) {
	return allocate(a.usedFilters, a.maxFilters)
}

// AllocateIntervalSlot is [SlotAllocator.AllocateFilterSlot] for interval
// transmit buffers.
func (a *SlotAllocator) AllocateIntervalSlot() (Index, error) {
	return allocate(a.usedIntervals, a.maxIntervals)
}

func allocate(used map[uint16]bool, max int) (Index, error) {
	for slot := 1; slot <= max; slot++ {
		if !used[uint16(slot)] {
			return SlotIndex(uint16(slot)), nil
		}
	}
	return 0, ErrNoFreeSlot
}

// MarkUsed records a slot as in use. Caller supplied slots bypass the
// capacity check, whoever picks a slot explicitly owns its validity.
func (a *SlotAllocator) MarkUsed(index Index, category SlotCategory) {
	switch category {
	case SlotFilter:
		a.usedFilters[index.SubIndex()] = true
	case SlotInterval:
		a.usedIntervals[index.SubIndex()] = true
	}
}

// Used reports whether a slot is recorded as in use.
func (a *SlotAllocator) Used(index Index, category SlotCategory) bool {
	switch category {
	case SlotFilter:
		return a.usedFilters[index.SubIndex()]
	case SlotInterval:
		return a.usedIntervals[index.SubIndex()]
	}
	return false
}
