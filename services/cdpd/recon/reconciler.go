package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"usdengine/native/cdp"
)

const (
	// Anomaly types emitted by the reconciler.
	AnomalySupplyMismatch      = "supply_mismatch"
	AnomalyUnderCollateralized = "under_collateralized"
	AnomalyZeroPrice           = "zero_price"
)

// Positions is the engine surface the reconciler reads.
type Positions interface {
	Users() ([]common.Address, error)
	Position(user common.Address) (*cdp.PositionView, error)
	Supply() (cdp.SupplyReport, error)
}

// Activity tallies journal entries per account and event type.
type Activity interface {
	CountByAccount(ctx context.Context, start, end time.Time) (map[string]map[string]int, error)
}

// AlertFunc is invoked for every anomaly detected during reconciliation.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

type Config struct {
	Engine    Positions
	Activity  Activity
	OutputDir string
	Window    time.Duration
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// Reconciler snapshots every position and checks that stablecoin supply
// matches outstanding debt.
type Reconciler struct {
	engine    Positions
	activity  Activity
	outputDir string
	window    time.Duration
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a reconciliation failure requiring operator review.
type Anomaly struct {
	Type    string
	Account string
	Details string
}

// ReportRow summarises one account.
type ReportRow struct {
	Account       string
	Status        string
	Debt          string
	CollateralUSD string
	AdjustedUSD   string
	HealthFactor  string
	Assets        int
	ZeroPriced    bool
	Minted        int
	Burned        int
	Deposits      int
	Redemptions   int
}

// Result summarises a reconciliation run.
type Result struct {
	RunID       uuid.UUID
	GeneratedAt time.Time
	Supply      cdp.SupplyReport
	Rows        []*ReportRow
	Anomalies   []Anomaly
	CSVPath     string
	ParquetPath string
}

func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("recon: engine is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("cdp-data", "recon")
	}
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		engine:    cfg.Engine,
		activity:  cfg.Activity,
		outputDir: outputDir,
		window:    window,
		now:       nowFn,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Export runs a reconciliation and returns the Parquet report path.
func (r *Reconciler) Export(ctx context.Context) (string, error) {
	result, err := r.Run(ctx)
	if err != nil {
		return "", err
	}
	return result.ParquetPath, nil
}

// Run reads every position, writes CSV and Parquet reports and raises
// anomalies through the configured alert hook.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	now := r.now()
	supply, err := r.engine.Supply()
	if err != nil {
		return nil, fmt.Errorf("recon: supply: %w", err)
	}
	users, err := r.engine.Users()
	if err != nil {
		return nil, fmt.Errorf("recon: users: %w", err)
	}
	var counts map[string]map[string]int
	if r.activity != nil {
		counts, err = r.activity.CountByAccount(ctx, now.Add(-r.window), now)
		if err != nil {
			return nil, fmt.Errorf("recon: activity: %w", err)
		}
	}

	result := &Result{RunID: uuid.New(), GeneratedAt: now, Supply: supply}
	if !supply.Balanced() {
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:    AnomalySupplyMismatch,
			Details: fmt.Sprintf("supply %s, debt %s", supply.TotalSupply, supply.TotalDebt),
		})
	}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		view, err := r.engine.Position(user)
		if err != nil {
			return nil, fmt.Errorf("recon: position %s: %w", user.Hex(), err)
		}
		row := rowFromView(view, counts[strings.ToLower(user.Hex())])
		result.Rows = append(result.Rows, row)
		if view.Status == cdp.StatusAtRisk {
			result.Anomalies = append(result.Anomalies, Anomaly{
				Type:    AnomalyUnderCollateralized,
				Account: row.Account,
				Details: "health factor " + row.HealthFactor,
			})
		}
		if row.ZeroPriced {
			result.Anomalies = append(result.Anomalies, Anomaly{Type: AnomalyZeroPrice, Account: row.Account})
		}
	}
	sort.Slice(result.Rows, func(i, j int) bool { return result.Rows[i].Account < result.Rows[j].Account })

	for _, anomaly := range result.Anomalies {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Warn("recon: alert failed", slog.String("type", anomaly.Type), slog.Any("error", err))
		}
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: create output dir: %w", err)
	}
	base := filepath.Join(r.outputDir, fmt.Sprintf("recon-%s-%s", now.Format("20060102T150405Z"), result.RunID.String()[:8]))
	result.CSVPath = base + ".csv"
	if err := writeCSV(result.CSVPath, result.Rows); err != nil {
		return nil, err
	}
	result.ParquetPath = base + ".parquet"
	if err := writeParquet(result.ParquetPath, result.Rows); err != nil {
		return nil, err
	}
	r.logger.Info("recon: report written",
		slog.String("file", result.ParquetPath),
		slog.Int("rows", len(result.Rows)),
		slog.Int("anomalies", len(result.Anomalies)),
		slog.Bool("balanced", supply.Balanced()))
	return result, nil
}

func rowFromView(view *cdp.PositionView, counts map[string]int) *ReportRow {
	row := &ReportRow{
		Account:       strings.ToLower(view.Account.Hex()),
		Status:        string(view.Status),
		Debt:          amount(view.Debt),
		CollateralUSD: amount(view.CollateralUSD),
		AdjustedUSD:   amount(view.AdjustedUSD),
		HealthFactor:  cdp.FormatHealthFactor(view.HealthFactor),
		Minted:        counts[cdp.EventTypeUsdMinted],
		Burned:        counts[cdp.EventTypeUsdBurned],
		Deposits:      counts[cdp.EventTypeCollateralDeposited],
		Redemptions:   counts[cdp.EventTypeCollateralRedeemed],
	}
	for _, h := range view.Holdings {
		if h.Amount != nil && h.Amount.Sign() > 0 {
			row.Assets++
		}
		if h.ZeroPriced {
			row.ZeroPriced = true
		}
	}
	return row
}

var csvHeader = []string{
	"account", "status", "debt", "collateral_usd", "adjusted_usd", "health_factor", "assets", "zero_priced",
	"minted", "burned", "deposits", "redemptions",
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Account,
			row.Status,
			row.Debt,
			row.CollateralUSD,
			row.AdjustedUSD,
			row.HealthFactor,
			strconv.Itoa(row.Assets),
			strconv.FormatBool(row.ZeroPriced),
			strconv.Itoa(row.Minted),
			strconv.Itoa(row.Burned),
			strconv.Itoa(row.Deposits),
			strconv.Itoa(row.Redemptions),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

type parquetRow struct {
	Account       string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status        string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Debt          string `parquet:"name=debt, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralUSD string `parquet:"name=collateral_usd, type=BYTE_ARRAY, convertedtype=UTF8"`
	AdjustedUSD   string `parquet:"name=adjusted_usd, type=BYTE_ARRAY, convertedtype=UTF8"`
	HealthFactor  string `parquet:"name=health_factor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Assets        int32  `parquet:"name=assets, type=INT32"`
	ZeroPriced    bool   `parquet:"name=zero_priced, type=BOOLEAN"`
	Minted        int32  `parquet:"name=minted, type=INT32"`
	Burned        int32  `parquet:"name=burned, type=INT32"`
	Deposits      int32  `parquet:"name=deposits, type=INT32"`
	Redemptions   int32  `parquet:"name=redemptions, type=INT32"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Account:       row.Account,
			Status:        row.Status,
			Debt:          row.Debt,
			CollateralUSD: row.CollateralUSD,
			AdjustedUSD:   row.AdjustedUSD,
			HealthFactor:  row.HealthFactor,
			Assets:        int32(row.Assets),
			ZeroPriced:    row.ZeroPriced,
			Minted:        int32(row.Minted),
			Burned:        int32(row.Burned),
			Deposits:      int32(row.Deposits),
			Redemptions:   int32(row.Redemptions),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
