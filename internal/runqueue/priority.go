package runqueue

import "math/bits"

// NumRTLevels mirrors a Linux-sized real-time priority range: one slot
// per real-time priority level (§3: Priority Index).
const NumRTLevels = 100

const (
	slotDeadlineGuest = NumRTLevels     // one reserved slot for deadline-class guests
	slotFairGuest     = NumRTLevels + 1 // one reserved slot for fair-class guests
	slotIdle          = NumRTLevels + 2 // one slot for the LWK idle entity
	NumSlots          = NumRTLevels + 3
)

// Band identifies which region of the priority index a PriorityBand
// falls in.
type Band int

const (
	BandRT Band = iota
	BandDeadlineGuest
	BandFairGuest
	BandIdle
)

// PriorityBand is an entity's position in the priority index: either
// a real-time level (0 = highest priority) or one of the three
// reserved bands.
type PriorityBand struct {
	Band    Band
	RTLevel int // valid only when Band == BandRT, in [0, NumRTLevels)
}

func RT(level int) PriorityBand {
	if level < 0 {
		level = 0
	}
	if level >= NumRTLevels {
		level = NumRTLevels - 1
	}
	return PriorityBand{Band: BandRT, RTLevel: level}
}

func DeadlineGuestBand() PriorityBand { return PriorityBand{Band: BandDeadlineGuest} }
func FairGuestBand() PriorityBand     { return PriorityBand{Band: BandFairGuest} }
func IdleBand() PriorityBand          { return PriorityBand{Band: BandIdle} }

// slotIndex returns the fixed slot an entity with this priority band
// occupies.
func (p PriorityBand) slotIndex() int {
	switch p.Band {
	case BandRT:
		return p.RTLevel
	case BandDeadlineGuest:
		return slotDeadlineGuest
	case BandFairGuest:
		return slotFairGuest
	case BandIdle:
		return slotIdle
	default:
		return slotFairGuest
	}
}

// Less reports whether p is strictly higher priority (lower slot
// index) than other — used by check_preempt_curr (§4.5).
func (p PriorityBand) Less(other PriorityBand) bool {
	return p.slotIndex() < other.slotIndex()
}

// bitset is a fixed-width bit array over [0, NumSlots) tracking which
// slots are non-empty, for O(1) lookup of the lowest-indexed
// non-empty slot (§3).
type bitset [(NumSlots + 63) / 64]uint64

func (b *bitset) set(i int)   { b[i/64] |= 1 << uint(i%64) }
func (b *bitset) clear(i int) { b[i/64] &^= 1 << uint(i%64) }
func (b *bitset) isSet(i int) bool {
	return b[i/64]&(1<<uint(i%64)) != 0
}

// lowestSet returns the lowest-indexed set bit, or (-1, false) if the
// set is empty.
func (b *bitset) lowestSet() (int, bool) {
	for word, v := range b {
		if v == 0 {
			continue
		}
		return word*64 + bits.TrailingZeros64(v), true
	}
	return -1, false
}
