package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

// accountParam reads an account from the path or query. "me" and an empty
// value resolve to the caller.
func accountParam(r *http.Request, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "me") {
		call, err := caller(r)
		if err != nil {
			return common.Address{}, err
		}
		return call.Caller, nil
	}
	return parseAddress("account", raw)
}

func (a *api) listCollaterals(w http.ResponseWriter, r *http.Request) {
	entries, err := a.engine.CollateralAssets()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]collateralJSON, 0, len(entries))
	for i, entry := range entries {
		out = append(out, collateralFromEntry(i, entry))
	}
	weth, err := a.engine.Weth()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"collaterals": out}
	if weth != (common.Address{}) {
		resp["weth"] = weth.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getCollateral(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: index must be an integer", errBadRequest))
		return
	}
	entry, err := a.engine.CollateralAsset(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collateralFromEntry(index, entry))
}

func (a *api) getPosition(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r, chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := a.engine.Position(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionFromView(view))
}

func (a *api) getMintable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, err := parseAddress("asset", q.Get("asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := accountParam(r, q.Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	additional, err := parseAmount("additional", q.Get("additional"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, healthy, err := a.engine.GetMintableUSD(asset, account, additional)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amountString(amount), "healthy": healthy})
}

func (a *api) getBurnable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, err := parseAddress("asset", q.Get("asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := accountParam(r, q.Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	burn, err := parseAmount("amount", q.Get("amount"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := a.engine.GetBurnableUSD(asset, account, burn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amountString(amount)})
}

func (a *api) getSupply(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.Supply()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyJSON{
		TotalSupply: amountString(report.TotalSupply),
		TotalDebt:   amountString(report.TotalDebt),
		Accounts:    report.Accounts,
		Balanced:    report.Balanced(),
	})
}

func (a *api) getBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := accountParam(r, chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := a.ledger.Token(tokenAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := tok.BalanceOf(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   tokenAddr.Hex(),
		"account": account.Hex(),
		"balance": amountString(balance),
	})
}

func (a *api) accountEvents(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, fmt.Errorf("%w: event journal disabled", errUnavailable))
		return
	}
	account, err := accountParam(r, chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(parsed, 500)
	}
	list, err := a.journal.AccountEvents(r.Context(), account.Hex(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "events": list})
}
