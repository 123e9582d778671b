package events

import (
	"math/big"
	"testing"
)

func TestBusDeliversInOrderWithSequence(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(TokenSupply{Symbol: "usd", Total: big.NewInt(1), Reason: SupplyReasonMint})
	bus.Emit(TokenSupply{Symbol: "usd", Total: big.NewInt(0), Reason: SupplyReasonBurn})

	first := <-ch
	second := <-ch
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("unexpected sequences: %d %d", first.Sequence, second.Sequence)
	}
	if first.Attr("reason") != SupplyReasonMint || second.Attr("reason") != SupplyReasonBurn {
		t.Fatalf("unexpected order: %+v %+v", first, second)
	}
	if first.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus(1)
	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(plainEvent{})
	bus.Emit(plainEvent{})
	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", bus.Dropped())
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	bus.Emit(plainEvent{})
}
