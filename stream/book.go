package stream

import "sort"

// bookSide holds one side's levels sorted by price: descending for bids,
// ascending for asks, no duplicate prices. Depths are bounded by the
// subscription depth, so linear operations on a slice are fine here.
type bookSide struct {
	levels     []Level
	descending bool
}

// search returns the index where price belongs in sort order and whether a
// level at exactly that price already exists. Price comparison is exact.
func (s *bookSide) search(price float64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.descending {
			return s.levels[i].Price <= price
		}
		return s.levels[i].Price >= price
	})
	return i, i < len(s.levels) && s.levels[i].Price == price
}

// apply sets the size at a price. Zero size removes the level (no-op when
// absent); a known price updates in place; a new price inserts at the
// position preserving sort order.
func (s *bookSide) apply(price, size float64) {
	i, found := s.search(price)
	switch {
	case size == 0:
		if found {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
	case found:
		s.levels[i].Size = size
	default:
		s.levels = append(s.levels, Level{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = Level{Price: price, Size: size}
	}
}

// replace rebuilds the side from snapshot levels. Input order does not
// matter; duplicate prices keep the last entry; zero sizes are dropped.
func (s *bookSide) replace(levels []wireLevel) {
	s.levels = s.levels[:0]
	for _, l := range levels {
		s.apply(l.Price, l.Size)
	}
}

// best returns the top of the side.
func (s *bookSide) best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// snapshot returns a copy safe to hand to the consumer.
func (s *bookSide) snapshot() []Level {
	out := make([]Level, len(s.levels))
	copy(out, s.levels)
	return out
}

func (s *bookSide) len() int {
	return len(s.levels)
}
