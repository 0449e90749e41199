package recorder

import (
	"testing"
)

func TestBuffer_SendReceive(t *testing.T) {
	buf := NewBuffer[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive() on empty buffer returned true")
	}
}

func TestBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewBuffer[int](10)

	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	// Order survives the resize
	for i := 0; i < 7; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d,%v, want %d,true", val, ok, i)
		}
	}
}

func TestBuffer_GrowPreservesWrappedOrder(t *testing.T) {
	buf := NewBuffer[int](10)

	// Advance head so the ring wraps before growing.
	for i := 0; i < 4; i++ {
		buf.Send(i)
	}
	for i := 0; i < 4; i++ {
		buf.TryReceive()
	}
	for i := 10; i < 18; i++ {
		buf.Send(i)
	}

	for i := 10; i < 18; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d,%v, want %d,true", val, ok, i)
		}
	}
}

func TestBuffer_Drain(t *testing.T) {
	buf := NewBuffer[int](10)
	for i := 0; i < 6; i++ {
		buf.Send(i)
	}

	batch := buf.Drain(4)
	if len(batch) != 4 {
		t.Fatalf("Drain(4) returned %d items", len(batch))
	}
	for i, v := range batch {
		if v != i {
			t.Errorf("batch[%d] = %d, want %d", i, v, i)
		}
	}

	rest := buf.Drain(0)
	if len(rest) != 2 || rest[0] != 4 || rest[1] != 5 {
		t.Errorf("Drain(0) = %v, want [4 5]", rest)
	}
	if got := buf.Drain(0); got != nil {
		t.Errorf("Drain(0) on empty buffer = %v, want nil", got)
	}
}

func TestBuffer_Close(t *testing.T) {
	buf := NewBuffer[int](4)
	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send after Close returned true")
	}

	// Buffered items still drain after close.
	val, ok := buf.TryReceive()
	if !ok || val != 1 {
		t.Errorf("TryReceive() = %d,%v, want 1,true", val, ok)
	}
}

func TestBuffer_Stats(t *testing.T) {
	buf := NewBuffer[string](8)
	buf.Send("a")
	buf.Send("b")
	buf.TryReceive()

	stats := buf.Stats()
	if stats.TotalIn != 2 {
		t.Errorf("TotalIn = %d, want 2", stats.TotalIn)
	}
	if stats.TotalOut != 1 {
		t.Errorf("TotalOut = %d, want 1", stats.TotalOut)
	}
	if stats.Count != 1 {
		t.Errorf("Count = %d, want 1", stats.Count)
	}
}
