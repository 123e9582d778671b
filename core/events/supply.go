package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/types"
)

const (
	// TypeTokenSupply is emitted whenever a token supply changes.
	TypeTokenSupply = "token.supply"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta for a fungible token.
type TokenSupply struct {
	Token  common.Address
	Symbol string
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{"token": e.Token.Hex()}
	symbol := strings.ToUpper(strings.TrimSpace(e.Symbol))
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	attrs["symbol"] = symbol

	total := big.NewInt(0)
	if e.Total != nil {
		total = new(big.Int).Set(e.Total)
	}
	attrs["total"] = total.String()

	if e.Delta != nil {
		attrs["delta"] = new(big.Int).Set(e.Delta).String()
	}

	reason := strings.TrimSpace(e.Reason)
	if reason != "" {
		attrs["reason"] = reason
	}

	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
