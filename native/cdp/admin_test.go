package cdp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestUpdateAllPriceFeedKeepsRegistryOrder(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateAllPriceFeed(deployerAddr, []common.Address{usdcAddr}, []string{"USDC"}, []uint64{60}); err != nil {
		t.Fatalf("update feeds: %v", err)
	}
	first, err := f.engine.CollateralAsset(0)
	if err != nil {
		t.Fatalf("asset 0: %v", err)
	}
	if first.Address != usdcAddr || first.LiquidationThreshold != 60 || first.PriceFeed != "usdc" {
		t.Fatalf("unexpected entry %+v", first)
	}
	second, err := f.engine.CollateralAsset(1)
	if err != nil || second.Address != wethAddr {
		t.Fatalf("weth must stay registered, got %+v err %v", second, err)
	}
	_, err = f.engine.CollateralAsset(2)
	var idxErr *IndexOutOfRangeError
	if !errors.As(err, &idxErr) || idxErr.Length != 2 {
		t.Fatalf("expected index out of range, got %v", err)
	}
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("index error must match sentinel")
	}
}

func TestUpdateAllPriceFeedValidatesWholeBatch(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name       string
		caller     common.Address
		assets     []common.Address
		feeds      []string
		thresholds []uint64
		want       error
	}{
		{"non admin", aliceAddr, []common.Address{usdcAddr}, []string{"usdc"}, []uint64{50}, ErrUnauthorized},
		{"length mismatch", deployerAddr, []common.Address{usdcAddr, wethAddr}, []string{"usdc"}, []uint64{50, 50}, ErrArrayLengthMismatch},
		{"threshold above 100", deployerAddr, []common.Address{usdcAddr, wethAddr}, []string{"usdc", "weth"}, []uint64{40, 101}, ErrInvalidThreshold},
		{"unknown feed", deployerAddr, []common.Address{usdcAddr, wethAddr}, []string{"usdc", "btc"}, []uint64{40, 40}, ErrUnknownFeed},
		{"unknown token", deployerAddr, []common.Address{usdcAddr, common.HexToAddress("0x77")}, []string{"usdc", "weth"}, []uint64{40, 40}, ErrUnsupportedAsset},
	}
	for _, tc := range cases {
		err := f.engine.UpdateAllPriceFeed(tc.caller, tc.assets, tc.feeds, tc.thresholds)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	entry, err := f.engine.CollateralAsset(0)
	if err != nil {
		t.Fatalf("asset 0: %v", err)
	}
	if entry.LiquidationThreshold != 50 {
		t.Fatalf("rejected batch must not write, threshold %d", entry.LiquidationThreshold)
	}
}

func TestAddOrUpdateFeedAppendsNewAsset(t *testing.T) {
	f := newFixture(t)
	dai := common.HexToAddress("0xda")
	if _, err := f.ledger.Register(dai, "DAI", "Dai", 18, deployerAddr); err != nil {
		t.Fatalf("register dai: %v", err)
	}
	if err := f.engine.AddOrUpdateFeed(deployerAddr, dai, "usdc", 80); err != nil {
		t.Fatalf("add feed: %v", err)
	}
	assets, err := f.engine.CollateralAssets()
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 3 || assets[2].Address != dai || assets[2].LiquidationThreshold != 80 {
		t.Fatalf("unexpected registry %+v", assets)
	}
}

func TestZeroThresholdAssetAddsNoCapacity(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.AddOrUpdateFeed(deployerAddr, usdcAddr, "usdc", 0); err != nil {
		t.Fatalf("update feed: %v", err)
	}
	f.approveUsdc(t, deployerAddr, ether(1000))
	err := f.engine.DepositCollateralAndMintUsd(call(deployerAddr), usdcAddr, ether(1000), ether(1))
	requireHealthFactorError(t, err, "0")
	if err := f.engine.DepositCollateral(call(deployerAddr), usdcAddr, ether(1000)); err != nil {
		t.Fatalf("deposit only must be accepted: %v", err)
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Initialize(aliceAddr, nil, nil, nil)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	admin, err := f.engine.Admin()
	if err != nil || admin != deployerAddr {
		t.Fatalf("admin changed: %s %v", admin.Hex(), err)
	}
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.TransferAdmin(aliceAddr, aliceAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.TransferAdmin(deployerAddr, aliceAddr); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	if err := f.engine.UpdateWETH(deployerAddr, usdcAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old admin must lose rights, got %v", err)
	}
	if err := f.engine.UpdateWETH(aliceAddr, usdcAddr); err != nil {
		t.Fatalf("new admin update weth: %v", err)
	}
	weth, err := f.engine.Weth()
	if err != nil || weth != usdcAddr {
		t.Fatalf("unexpected weth %s err %v", weth.Hex(), err)
	}
}

func TestUpdateWETHRequiresRegisteredAsset(t *testing.T) {
	f := newFixture(t)
	err := f.engine.UpdateWETH(deployerAddr, common.HexToAddress("0x77"))
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
	weth, err := f.engine.Weth()
	if err != nil || weth != wethAddr {
		t.Fatalf("weth must be unchanged, got %s err %v", weth.Hex(), err)
	}
}

func TestJournalRevertsInReverseOrder(t *testing.T) {
	var order []string
	j := newJournal(nil)
	record := func(name string) func() error {
		return func() error { order = append(order, name); return nil }
	}
	for _, name := range []string{"a", "b"} {
		if err := j.step(name, func() error { return nil }, record(name)); err != nil {
			t.Fatalf("step %s: %v", name, err)
		}
	}
	cause := errors.New("boom")
	err := j.step("c", func() error { return cause }, record("c"))
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if got := j.revert(err); !errors.Is(got, cause) {
		t.Fatalf("revert must keep the cause, got %v", got)
	}
	if fmt.Sprint(order) != "[b a]" {
		t.Fatalf("unexpected undo order %v", order)
	}
	if j.length() != 0 {
		t.Fatalf("journal must be drained")
	}
}
