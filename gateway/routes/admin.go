package routes

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/native/oracle"
)

func (a *api) updateFeeds(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req feedsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	assets := make([]common.Address, 0, len(req.Assets))
	for i, raw := range req.Assets {
		addr, err := parseAddress(fmt.Sprintf("assets[%d]", i), raw)
		if err != nil {
			writeError(w, err)
			return
		}
		assets = append(assets, addr)
	}
	if err := a.engine.UpdateAllPriceFeed(call.Caller, assets, req.Feeds, req.Thresholds); err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("collateral registry updated", slog.String("account", call.Caller.Hex()), slog.Int("entries", len(assets)))
	a.listCollaterals(w, r)
}

func (a *api) updateWeth(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wethRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.engine.UpdateWETH(call.Caller, asset); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "weth": asset.Hex()})
}

// updatePrice pushes a manual price, given in whole USD, on behalf of the
// feed owner.
func (a *api) updatePrice(w http.ResponseWriter, r *http.Request) {
	call, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	feed, ok := a.feeds.Manual(req.Feed)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q", oracle.ErrUnknownFeed, req.Feed))
		return
	}
	_, decimals, err := feed.GetPrice()
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := oracle.ParseDecimal(req.Price, decimals)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := feed.UpdatePrice(call.Caller, price); err != nil {
		writeError(w, err)
		return
	}
	a.logger.Info("manual price recorded", slog.String("feed", req.Feed), slog.String("price", price.String()))
	writeJSON(w, http.StatusOK, map[string]any{"feed": req.Feed, "price": price.String(), "decimals": decimals})
}

func (a *api) reconcile(w http.ResponseWriter, r *http.Request) {
	if a.recon == nil {
		writeError(w, fmt.Errorf("%w: reconciliation export disabled", errUnavailable))
		return
	}
	location, err := a.recon.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "file": location})
}
