package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"usdengine/core/events"
	"usdengine/core/types"
)

// Record is one persisted engine event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"index"`
	Account    string    `gorm:"index"`
	Asset      string
	Amount     string
	Attributes string
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (Record) TableName() string { return "cdp_events" }

// Open connects to the journal database. Supported drivers are "postgres"
// and "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite", "":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
}

// Journal persists every event the engine emits and serves per-account
// history. Write failures are logged and never reach the engine.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: db is required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	var last struct{ Max uint64 }
	if err := db.Model(&Record{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: resume sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last.Max}, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	if err := j.Append(context.Background(), rendered); err != nil {
		j.logger.Error("journal: append failed",
			slog.String("type", rendered.Type),
			slog.Any("error", err))
	}
}

// Append stores evt under the next journal sequence.
func (j *Journal) Append(ctx context.Context, evt *types.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	occurred := evt.Timestamp
	if occurred.IsZero() {
		occurred = j.now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := Record{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       evt.Type,
		Account:    strings.ToLower(evt.Attr("account")),
		Asset:      strings.ToLower(evt.Attr("asset")),
		Amount:     evt.Attr("amount"),
		Attributes: string(attrs),
		OccurredAt: occurred,
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	j.seq = rec.Sequence
	return nil
}

// AccountEvents returns up to limit events for account, newest first.
func (j *Journal) AccountEvents(ctx context.Context, account string, limit int) ([]types.Event, error) {
	var recs []Record
	err := j.db.WithContext(ctx).
		Where("account = ?", strings.ToLower(strings.TrimSpace(account))).
		Order("sequence DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toEvents(recs)
}

// CountByAccount tallies journal entries per account and type within
// [start, end).
func (j *Journal) CountByAccount(ctx context.Context, start, end time.Time) (map[string]map[string]int, error) {
	var rows []struct {
		Account string
		Type    string
		Total   int
	}
	err := j.db.WithContext(ctx).Model(&Record{}).
		Select("account, type, COUNT(*) AS total").
		Where("occurred_at >= ? AND occurred_at < ? AND account <> ''", start, end).
		Group("account, type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int)
	for _, row := range rows {
		if out[row.Account] == nil {
			out[row.Account] = make(map[string]int)
		}
		out[row.Account][row.Type] = row.Total
	}
	return out, nil
}

func toEvents(recs []Record) ([]types.Event, error) {
	out := make([]types.Event, 0, len(recs))
	for _, rec := range recs {
		attrs := map[string]string{}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("journal: decode %s: %w", rec.ID, err)
			}
		}
		out = append(out, types.Event{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Attributes: attrs,
			Timestamp:  rec.OccurredAt,
		})
	}
	return out, nil
}
