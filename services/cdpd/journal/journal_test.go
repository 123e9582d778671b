package journal

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/types"
	"usdengine/native/cdp"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j, err := New(db, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return j
}

func TestEmitPersistsAccountHistory(t *testing.T) {
	j := openJournal(t)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb2")
	asset := common.HexToAddress("0xc0")

	j.Emit(cdp.CollateralDeposited{User: alice, Asset: asset, Amount: big.NewInt(10)})
	j.Emit(cdp.UsdMinted{User: alice, Amount: big.NewInt(4)})
	j.Emit(cdp.CollateralDeposited{User: bob, Asset: asset, Amount: big.NewInt(7)})

	got, err := j.AccountEvents(context.Background(), alice.Hex(), 10)
	if err != nil {
		t.Fatalf("account events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(got))
	}
	if got[0].Type != cdp.EventTypeUsdMinted || got[0].Sequence != 2 {
		t.Fatalf("expected newest mint first, got %+v", got[0])
	}
	if got[1].Attr("amount") != "10" {
		t.Fatalf("unexpected deposit amount %q", got[1].Attr("amount"))
	}

	limited, err := j.AccountEvents(context.Background(), alice.Hex(), 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit ignored: %d, %v", len(limited), err)
	}
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j, err := New(db, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	evt := &types.Event{Type: cdp.EventTypeUsdBurned, Attributes: map[string]string{"account": "0xA1"}}
	for i := 0; i < 3; i++ {
		if err := j.Append(context.Background(), evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reopened, err := New(db, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Append(context.Background(), evt); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	got, err := reopened.AccountEvents(context.Background(), "0xa1", 1)
	if err != nil || len(got) != 1 || got[0].Sequence != 4 {
		t.Fatalf("expected sequence 4, got %+v (%v)", got, err)
	}
}

func TestCountByAccountWindow(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	add := func(typ, account string, at time.Time) {
		t.Helper()
		err := j.Append(context.Background(), &types.Event{Type: typ, Timestamp: at, Attributes: map[string]string{"account": account}})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	add(cdp.EventTypeUsdMinted, "0xA1", base)
	add(cdp.EventTypeUsdMinted, "0xA1", base.Add(time.Minute))
	add(cdp.EventTypeUsdBurned, "0xA1", base.Add(2*time.Minute))
	add(cdp.EventTypeUsdMinted, "0xA1", base.Add(48*time.Hour))
	add(cdp.EventTypeFeedUpdated, "", base)

	counts, err := j.CountByAccount(context.Background(), base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("expected one account, got %v", counts)
	}
	if counts["0xa1"][cdp.EventTypeUsdMinted] != 2 || counts["0xa1"][cdp.EventTypeUsdBurned] != 1 {
		t.Fatalf("unexpected tallies %v", counts["0xa1"])
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
