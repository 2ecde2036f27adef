package jobs

import "testing"

func TestEventBusSequencing(t *testing.T) {
	bus := NewEventBus(10)

	first := bus.Publish(Event{JobID: "a", Status: "processing", Progress: 10})
	second := bus.Publish(Event{JobID: "a", Status: "processing", Progress: 20})

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("sequences = %d, %d", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(10)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: "a", Progress: i})
	}

	got := bus.Since(3)
	if len(got) != 2 {
		t.Fatalf("Since(3) = %d events, want 2", len(got))
	}
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("unexpected sequences: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestEventBusBounded(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{JobID: "a", Progress: i})
	}

	got := bus.Since(0)
	if len(got) != 3 {
		t.Fatalf("buffer holds %d events, want 3", len(got))
	}
	if got[0].Seq != 8 {
		t.Errorf("oldest kept seq = %d, want 8", got[0].Seq)
	}
}
