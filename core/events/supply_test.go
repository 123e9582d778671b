package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenSupplyEvent(t *testing.T) {
	token := common.HexToAddress("0x0b")
	evt := TokenSupply{
		Token:  token,
		Symbol: "usd",
		Total:  big.NewInt(5000),
		Delta:  big.NewInt(250),
		Reason: SupplyReasonMint,
	}.Event()
	if evt == nil {
		t.Fatalf("expected event")
	}
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["symbol"] != "USD" || evt.Attributes["token"] != token.Hex() {
		t.Fatalf("unexpected token attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["total"] != "5000" || evt.Attributes["delta"] != "250" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reason"] != SupplyReasonMint {
		t.Fatalf("unexpected reason: %s", evt.Attributes["reason"])
	}
}

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestRenderFallsBackToType(t *testing.T) {
	evt := Render(plainEvent{})
	if evt.Type != "plain" || evt.Attributes == nil {
		t.Fatalf("unexpected render: %+v", evt)
	}
	if Render(nil) != nil {
		t.Fatalf("expected nil render for nil event")
	}
}
