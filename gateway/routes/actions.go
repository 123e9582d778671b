package routes

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/native/cdp"
)

// respond writes the caller's refreshed position after a successful
// mutation.
func (a *api) respond(w http.ResponseWriter, op string, call cdp.Call, err error) {
	if err != nil {
		a.logger.Info("cdp request rejected",
			slog.String("op", op),
			slog.String("account", call.Caller.Hex()),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	view, err := a.engine.Position(call.Caller)
	if err != nil {
		writeJSON(w, http.StatusOK, txResult{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, txResult{Status: "ok", Position: positionFromView(view)})
}

func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req approveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	spender := a.engine.Account()
	if req.Spender != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			writeError(w, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := a.ledger.Token(tokenAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := tok.Approve(call.Caller, spender, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"token":   tokenAddr.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	})
}

func (a *api) depositAndMint(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req depositMintRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, collateral, err := assetAndAmount(req.Asset, "collateralAmount", req.CollateralAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	usd, err := parseAmount("usdAmount", req.UsdAmount, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if call.Value, err = parseAmount("value", req.Value, true); err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "deposit_and_mint", call, a.engine.DepositCollateralAndMintUsd(call, asset, collateral, usd))
}

func (a *api) deposit(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req assetAmountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, amount, err := assetAndAmount(req.Asset, "amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if call.Value, err = parseAmount("value", req.Value, true); err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "deposit", call, a.engine.DepositCollateral(call, asset, amount))
}

func (a *api) redeemForUsd(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req redeemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, collateral, err := assetAndAmount(req.Asset, "collateralAmount", req.CollateralAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	usd, err := parseAmount("usdAmount", req.UsdAmount, false)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "redeem_for_usd", call, a.engine.RedeemCollateralForUsd(call, asset, collateral, usd))
}

func (a *api) redeemCollateral(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req assetAmountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, amount, err := assetAndAmount(req.Asset, "amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "redeem_collateral", call, a.engine.RedeemCollateral(call, asset, amount))
}

func (a *api) mint(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "mint", call, a.engine.MintUsd(call, amount))
}

func (a *api) burn(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, "burn", call, a.engine.BurnUsd(call, amount))
}

func assetAndAmount(rawAsset, field, rawAmount string) (common.Address, *big.Int, error) {
	asset, err := parseAddress("asset", rawAsset)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount(field, rawAmount, false)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, amount, nil
}
