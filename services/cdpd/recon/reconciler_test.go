package recon

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"usdengine/native/cdp"
)

type stubEngine struct {
	supply cdp.SupplyReport
	views  map[common.Address]*cdp.PositionView
}

func (s *stubEngine) Users() ([]common.Address, error) {
	out := make([]common.Address, 0, len(s.views))
	for addr := range s.views {
		out = append(out, addr)
	}
	return out, nil
}

func (s *stubEngine) Position(user common.Address) (*cdp.PositionView, error) {
	view, ok := s.views[user]
	if !ok {
		return nil, errors.New("missing")
	}
	return view, nil
}

func (s *stubEngine) Supply() (cdp.SupplyReport, error) { return s.supply, nil }

type stubActivity map[string]map[string]int

func (s stubActivity) CountByAccount(context.Context, time.Time, time.Time) (map[string]map[string]int, error) {
	return s, nil
}

func TestReconcilerWritesReportsAndFlagsAnomalies(t *testing.T) {
	healthy := common.HexToAddress("0xa1")
	risky := common.HexToAddress("0xb2")
	usdc := common.HexToAddress("0xc0")
	engine := &stubEngine{
		supply: cdp.SupplyReport{TotalSupply: big.NewInt(900), TotalDebt: big.NewInt(1000), Accounts: 2},
		views: map[common.Address]*cdp.PositionView{
			healthy: {
				Account:      healthy,
				Debt:         big.NewInt(400),
				HealthFactor: new(big.Int).Mul(big.NewInt(125), big.NewInt(1e16)),
				Status:       cdp.StatusHealthy,
				Holdings:     []cdp.CollateralHolding{{Asset: usdc, Amount: big.NewInt(1000)}},
			},
			risky: {
				Account:      risky,
				Debt:         big.NewInt(600),
				HealthFactor: big.NewInt(5e17),
				Status:       cdp.StatusAtRisk,
				Holdings:     []cdp.CollateralHolding{{Asset: usdc, Amount: big.NewInt(10), ZeroPriced: true}},
			},
		},
	}
	var alerts []Anomaly
	rec, err := NewReconciler(Config{
		Engine:    engine,
		Activity:  stubActivity{strings.ToLower(healthy.Hex()): {cdp.EventTypeUsdMinted: 3}},
		OutputDir: t.TempDir(),
		Now:       func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) },
		Alert: func(_ context.Context, a Anomaly) error {
			alerts = append(alerts, a)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	result, err := rec.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.Rows[0].Account != strings.ToLower(healthy.Hex()) || result.Rows[0].Minted != 3 || result.Rows[0].HealthFactor != "1.25" {
		t.Fatalf("unexpected first row %+v", result.Rows[0])
	}
	kinds := map[string]int{}
	for _, a := range alerts {
		kinds[a.Type]++
	}
	if kinds[AnomalySupplyMismatch] != 1 || kinds[AnomalyUnderCollateralized] != 1 || kinds[AnomalyZeroPrice] != 1 {
		t.Fatalf("unexpected anomalies %v", kinds)
	}

	csvData, err := os.ReadFile(result.CSVPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(csvData)), "\n"); lines != 2 {
		t.Fatalf("expected header plus 2 rows, got %d newlines", lines)
	}

	fr, err := local.NewLocalFileReader(result.ParquetPath)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("expected 2 parquet rows, got %d", n)
	}
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if rows[1].Status != string(cdp.StatusAtRisk) || !rows[1].ZeroPriced {
		t.Fatalf("unexpected parquet row %+v", rows[1])
	}
}

func TestExportReturnsParquetPath(t *testing.T) {
	engine := &stubEngine{supply: cdp.SupplyReport{TotalSupply: big.NewInt(0), TotalDebt: big.NewInt(0)}}
	rec, err := NewReconciler(Config{Engine: engine, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	path, err := rec.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasSuffix(path, ".parquet") {
		t.Fatalf("unexpected path %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RunHour: 2, RunMinute: 30})
	before := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	if got := s.nextRun(before); !got.Equal(time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %s", got)
	}
	after := time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)
	if got := s.nextRun(after); !got.Equal(time.Date(2025, 3, 2, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected rollover %s", got)
	}
	if clamp(99, 23) != 23 || clamp(-1, 59) != 0 {
		t.Fatalf("clamp out of range")
	}
}
