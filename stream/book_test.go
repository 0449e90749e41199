package stream

import "testing"

func levelsEqual(got []Level, want []Level) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func prices(levels []Level) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}

func sortedCheck(t *testing.T, s *bookSide) {
	t.Helper()
	for i := 1; i < len(s.levels); i++ {
		prev, cur := s.levels[i-1].Price, s.levels[i].Price
		if s.descending && cur >= prev {
			t.Errorf("bids not strictly descending at %d: %v then %v", i, prev, cur)
		}
		if !s.descending && cur <= prev {
			t.Errorf("asks not strictly ascending at %d: %v then %v", i, prev, cur)
		}
	}
}

func TestBookSide_Apply_SortInvariant(t *testing.T) {
	bids := &bookSide{descending: true}
	asks := &bookSide{}

	inserts := []Level{
		{0.64, 100}, {0.66, 50}, {0.63, 200}, {0.65, 75}, {0.62, 10},
	}
	for _, l := range inserts {
		bids.apply(l.Price, l.Size)
		asks.apply(l.Price, l.Size)
		sortedCheck(t, bids)
		sortedCheck(t, asks)
	}

	wantBids := []float64{0.66, 0.65, 0.64, 0.63, 0.62}
	if got := prices(bids.levels); !floatsEqual(got, wantBids) {
		t.Errorf("bid prices = %v, want %v", got, wantBids)
	}
	wantAsks := []float64{0.62, 0.63, 0.64, 0.65, 0.66}
	if got := prices(asks.levels); !floatsEqual(got, wantAsks) {
		t.Errorf("ask prices = %v, want %v", got, wantAsks)
	}
}

func floatsEqual(got, want []float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestBookSide_Apply_UpdateExisting(t *testing.T) {
	s := &bookSide{descending: true}
	s.apply(0.65, 1000)
	s.apply(0.64, 2500)

	s.apply(0.65, 1500)

	want := []Level{{0.65, 1500}, {0.64, 2500}}
	if !levelsEqual(s.levels, want) {
		t.Errorf("levels = %v, want %v", s.levels, want)
	}
}

func TestBookSide_Apply_InsertBetween(t *testing.T) {
	s := &bookSide{descending: true}
	for _, l := range []Level{{0.65, 1000}, {0.64, 2500}, {0.63, 500}} {
		s.apply(l.Price, l.Size)
	}

	s.apply(0.645, 200)

	want := []float64{0.65, 0.645, 0.64, 0.63}
	if got := prices(s.levels); !floatsEqual(got, want) {
		t.Errorf("prices = %v, want %v", got, want)
	}
	if s.levels[1] != (Level{0.645, 200}) {
		t.Errorf("levels[1] = %v, want {0.645 200}", s.levels[1])
	}
}

func TestBookSide_Apply_ZeroSizeRemoves(t *testing.T) {
	s := &bookSide{descending: true}
	s.apply(0.65, 1000)
	s.apply(0.64, 2500)
	s.apply(0.63, 500)

	s.apply(0.64, 0)

	want := []float64{0.65, 0.63}
	if got := prices(s.levels); !floatsEqual(got, want) {
		t.Errorf("prices = %v, want %v", got, want)
	}
}

func TestBookSide_Apply_ZeroSizeAbsentIsNoop(t *testing.T) {
	s := &bookSide{}
	s.apply(0.66, 800)
	s.apply(0.67, 1500)

	s.apply(0.70, 0)

	if s.len() != 2 {
		t.Errorf("len = %d, want 2", s.len())
	}
}

func TestBookSide_Replace_SortsInput(t *testing.T) {
	s := &bookSide{descending: true}
	s.apply(0.50, 1)

	s.replace([]wireLevel{
		{0.63, 500},
		{0.65, 1000},
		{0.64, 2500},
	})

	want := []float64{0.65, 0.64, 0.63}
	if got := prices(s.levels); !floatsEqual(got, want) {
		t.Errorf("prices = %v, want %v", got, want)
	}
}

func TestBookSide_Replace_DuplicateLastWins(t *testing.T) {
	s := &bookSide{}

	s.replace([]wireLevel{
		{0.66, 800},
		{0.67, 1500},
		{0.66, 900},
	})

	if s.len() != 2 {
		t.Fatalf("len = %d, want 2", s.len())
	}
	if s.levels[0] != (Level{0.66, 900}) {
		t.Errorf("levels[0] = %v, want {0.66 900}", s.levels[0])
	}
}

func TestBookSide_Best(t *testing.T) {
	s := &bookSide{descending: true}

	if _, ok := s.best(); ok {
		t.Error("best on empty side should report not ok")
	}

	s.apply(0.64, 100)
	s.apply(0.65, 200)

	best, ok := s.best()
	if !ok || best.Price != 0.65 {
		t.Errorf("best = %v, %v; want {0.65 200}, true", best, ok)
	}
}

func TestBookSide_Snapshot_IsCopy(t *testing.T) {
	s := &bookSide{}
	s.apply(0.66, 800)

	snap := s.snapshot()
	s.apply(0.66, 0)

	if len(snap) != 1 || snap[0] != (Level{0.66, 800}) {
		t.Errorf("snapshot mutated by later apply: %v", snap)
	}
}
