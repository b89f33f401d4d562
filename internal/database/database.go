package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/adaptixlab/adaptix/internal/updater"
	"github.com/adaptixlab/adaptix/types"
)

type Database struct {
	db *gorm.DB
}

// Models

// Prediction mirrors one PredictionRecord row. Sub-predictions are kept as a
// JSON blob; nothing queries inside them.
type Prediction struct {
	ID             string `gorm:"primaryKey"`
	Symbol         string `gorm:"index"`
	Timeframe      string
	Direction      string
	Confidence     float64
	CurrentPrice   decimal.Decimal `gorm:"type:decimal(18,8)"`
	SubPredictions string

	ActualPrice     *decimal.Decimal `gorm:"type:decimal(18,8)"`
	ActualDirection *string
	IsCorrect       *bool
	PnL             *decimal.Decimal `gorm:"type:decimal(18,8)"`
	PnLPercent      *decimal.Decimal `gorm:"type:decimal(10,6)"`
	EvaluatedAt     *time.Time

	Timestamp time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ModelUpdate mirrors one retraining attempt
type ModelUpdate struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ModelID   string `gorm:"index"`
	Samples   int
	Success   bool
	Timestamp time.Time
	CreatedAt time.Time
}

// New opens the database. A postgres:// DSN selects PostgreSQL, anything else
// is treated as a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Prediction{}, &ModelUpdate{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// SavePrediction upserts one record by id
func (d *Database) SavePrediction(rec types.PredictionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// SaveUpdateEntry appends one retraining attempt
func (d *Database) SaveUpdateEntry(e updater.HistoryEntry) error {
	row := ModelUpdate{
		ModelID:   e.ModelID,
		Samples:   e.Samples,
		Success:   e.Success,
		Timestamp: e.Timestamp,
	}
	return d.db.Create(&row).Error
}

// LoadPredictions returns up to limit most recent records, oldest first, so a
// restarted controller can rebuild its in-memory store.
func (d *Database) LoadPredictions(limit int) ([]types.PredictionRecord, error) {
	var rows []Prediction
	q := d.db.Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	recs := make([]types.PredictionRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		rec, err := fromRow(rows[i])
		if err != nil {
			log.Warn().Err(err).Str("id", rows[i].ID).Msg("Skipping unreadable prediction row")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close releases the underlying connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(rec types.PredictionRecord) (Prediction, error) {
	subs, err := json.Marshal(rec.SubPredictions)
	if err != nil {
		return Prediction{}, err
	}

	row := Prediction{
		ID:             rec.ID,
		Symbol:         rec.Symbol,
		Timeframe:      rec.Timeframe,
		Direction:      string(rec.Prediction),
		Confidence:     rec.Confidence,
		CurrentPrice:   rec.CurrentPrice,
		SubPredictions: string(subs),
		ActualPrice:    rec.ActualPrice,
		IsCorrect:      rec.IsCorrect,
		PnL:            rec.PnL,
		PnLPercent:     rec.PnLPercent,
		EvaluatedAt:    rec.EvaluatedAt,
		Timestamp:      rec.Timestamp,
	}
	if rec.ActualDirection != nil {
		s := string(*rec.ActualDirection)
		row.ActualDirection = &s
	}
	return row, nil
}

func fromRow(row Prediction) (types.PredictionRecord, error) {
	var subs []types.SubPrediction
	if row.SubPredictions != "" {
		if err := json.Unmarshal([]byte(row.SubPredictions), &subs); err != nil {
			return types.PredictionRecord{}, err
		}
	}

	rec := types.PredictionRecord{
		ID:             row.ID,
		Timestamp:      row.Timestamp,
		Symbol:         row.Symbol,
		Timeframe:      row.Timeframe,
		CurrentPrice:   row.CurrentPrice,
		Prediction:     types.Direction(row.Direction),
		Confidence:     row.Confidence,
		SubPredictions: subs,
		ActualPrice:    row.ActualPrice,
		IsCorrect:      row.IsCorrect,
		PnL:            row.PnL,
		PnLPercent:     row.PnLPercent,
		EvaluatedAt:    row.EvaluatedAt,
	}
	if row.ActualDirection != nil {
		d := types.Direction(*row.ActualDirection)
		rec.ActualDirection = &d
	}
	return rec, nil
}
