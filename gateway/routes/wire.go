package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/native/cdp"
)

const requestLimit = 1 << 20

type positionJSON struct {
	Account             string        `json:"account"`
	Status              string        `json:"status"`
	Debt                string        `json:"debt"`
	CollateralUSD       string        `json:"collateralUsd"`
	AdjustedUSD         string        `json:"adjustedUsd"`
	HealthFactor        string        `json:"healthFactor"`
	HealthFactorDisplay string        `json:"healthFactorDisplay"`
	Holdings            []holdingJSON `json:"holdings"`
}

type holdingJSON struct {
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	ValueUSD      string `json:"valueUsd"`
	AdjustedUSD   string `json:"adjustedUsd"`
	Threshold     uint64 `json:"threshold"`
	Price         string `json:"price"`
	PriceDecimals uint8  `json:"priceDecimals"`
	ZeroPriced    bool   `json:"zeroPriced"`
}

type collateralJSON struct {
	Index                int    `json:"index"`
	Address              string `json:"address"`
	PriceFeed            string `json:"priceFeed"`
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	Decimals             uint8  `json:"decimals"`
}

type supplyJSON struct {
	TotalSupply string `json:"totalSupply"`
	TotalDebt   string `json:"totalDebt"`
	Accounts    int    `json:"accounts"`
	Balanced    bool   `json:"balanced"`
}

type depositMintRequest struct {
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	UsdAmount        string `json:"usdAmount"`
	Value            string `json:"value,omitempty"`
}

type redeemRequest struct {
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	UsdAmount        string `json:"usdAmount"`
}

type assetAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value,omitempty"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type approveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type feedsRequest struct {
	Assets     []string `json:"assets"`
	Feeds      []string `json:"feeds"`
	Thresholds []uint64 `json:"thresholds"`
}

type wethRequest struct {
	Asset string `json:"asset"`
}

type priceRequest struct {
	Feed  string `json:"feed"`
	Price string `json:"price"`
}

type txResult struct {
	Status   string        `json:"status"`
	Position *positionJSON `json:"position,omitempty"`
}

func decode(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount reads a base-unit integer. Empty input is nil when optional.
func parseAmount(field, raw string, optional bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", errBadRequest, field)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func positionFromView(view *cdp.PositionView) *positionJSON {
	if view == nil {
		return nil
	}
	out := &positionJSON{
		Account:             view.Account.Hex(),
		Status:              string(view.Status),
		Debt:                amountString(view.Debt),
		CollateralUSD:       amountString(view.CollateralUSD),
		AdjustedUSD:         amountString(view.AdjustedUSD),
		HealthFactor:        amountString(view.HealthFactor),
		HealthFactorDisplay: cdp.FormatHealthFactor(view.HealthFactor),
		Holdings:            make([]holdingJSON, 0, len(view.Holdings)),
	}
	for _, h := range view.Holdings {
		out.Holdings = append(out.Holdings, holdingJSON{
			Asset:         h.Asset.Hex(),
			Amount:        amountString(h.Amount),
			ValueUSD:      amountString(h.ValueUSD),
			AdjustedUSD:   amountString(h.AdjustedUSD),
			Threshold:     h.Threshold,
			Price:         amountString(h.Price),
			PriceDecimals: h.PriceDecimals,
			ZeroPriced:    h.ZeroPriced,
		})
	}
	return out
}

func collateralFromEntry(index int, entry *cdp.CollateralAsset) collateralJSON {
	return collateralJSON{
		Index:                index,
		Address:              entry.Address.Hex(),
		PriceFeed:            entry.PriceFeed,
		LiquidationThreshold: entry.LiquidationThreshold,
		Decimals:             entry.Decimals,
	}
}
