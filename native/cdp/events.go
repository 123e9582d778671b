package cdp

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/types"
)

const (
	// EventTypeCollateralDeposited is emitted when collateral enters custody.
	EventTypeCollateralDeposited = "cdp.collateral.deposited"
	// EventTypeCollateralRedeemed is emitted when collateral leaves custody.
	EventTypeCollateralRedeemed = "cdp.collateral.redeemed"
	// EventTypeUsdMinted is emitted when stablecoin debt is issued.
	EventTypeUsdMinted = "cdp.usd.minted"
	// EventTypeUsdBurned is emitted when stablecoin debt is repaid.
	EventTypeUsdBurned = "cdp.usd.burned"
	// EventTypeFeedUpdated is emitted for every registry upsert.
	EventTypeFeedUpdated = "cdp.feed.updated"
	EventTypeWethUpdated = "cdp.weth.updated"
	// EventTypeAdminTransferred is emitted when the admin role moves.
	EventTypeAdminTransferred = "cdp.admin.transferred"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CollateralDeposited records a collateral deposit.
type CollateralDeposited struct {
	User   common.Address
	Asset  common.Address
	Amount *big.Int
	Native bool
}

func (CollateralDeposited) EventType() string { return EventTypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCollateralDeposited,
		Attributes: map[string]string{
			"account": e.User.Hex(),
			"asset":   e.Asset.Hex(),
			"amount":  amountString(e.Amount),
			"native":  strconv.FormatBool(e.Native),
		},
	}
}

// CollateralRedeemed records collateral released from custody.
type CollateralRedeemed struct {
	From   common.Address
	To     common.Address
	Asset  common.Address
	Amount *big.Int
	Native bool
}

func (CollateralRedeemed) EventType() string { return EventTypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCollateralRedeemed,
		Attributes: map[string]string{
			"account":   e.From.Hex(),
			"recipient": e.To.Hex(),
			"asset":     e.Asset.Hex(),
			"amount":    amountString(e.Amount),
			"native":    strconv.FormatBool(e.Native),
		},
	}
}

// UsdMinted records new debt.
type UsdMinted struct {
	User   common.Address
	Amount *big.Int
	Debt   *big.Int
}

func (UsdMinted) EventType() string { return EventTypeUsdMinted }

func (e UsdMinted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeUsdMinted,
		Attributes: map[string]string{
			"account": e.User.Hex(),
			"amount":  amountString(e.Amount),
			"debt":    amountString(e.Debt),
		},
	}
}

// UsdBurned records repaid debt.
type UsdBurned struct {
	User   common.Address
	Amount *big.Int
	Debt   *big.Int
}

func (UsdBurned) EventType() string { return EventTypeUsdBurned }

func (e UsdBurned) Event() *types.Event {
	return &types.Event{
		Type: EventTypeUsdBurned,
		Attributes: map[string]string{
			"account": e.User.Hex(),
			"amount":  amountString(e.Amount),
			"debt":    amountString(e.Debt),
		},
	}
}

// FeedUpdated records a registry upsert.
type FeedUpdated struct {
	Asset     common.Address
	Feed      string
	Threshold uint64
}

func (FeedUpdated) EventType() string { return EventTypeFeedUpdated }

func (e FeedUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeFeedUpdated,
		Attributes: map[string]string{
			"asset":     e.Asset.Hex(),
			"feed":      e.Feed,
			"threshold": strconv.FormatUint(e.Threshold, 10),
		},
	}
}

// WethUpdated records a change of the native-wrapped collateral identifier.
type WethUpdated struct {
	Asset common.Address
}

func (WethUpdated) EventType() string { return EventTypeWethUpdated }

func (e WethUpdated) Event() *types.Event {
	return &types.Event{
		Type:       EventTypeWethUpdated,
		Attributes: map[string]string{"asset": e.Asset.Hex()},
	}
}

// AdminTransferred records an admin handover.
type AdminTransferred struct {
	Previous common.Address
	Next     common.Address
}

func (AdminTransferred) EventType() string { return EventTypeAdminTransferred }

func (e AdminTransferred) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAdminTransferred,
		Attributes: map[string]string{
			"previous": e.Previous.Hex(),
			"next":     e.Next.Hex(),
		},
	}
}
