package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm/clause"

	"main/internal/market"
	"main/pkg/conn"
)

// FundingSample is one persisted funding-rate observation. Rates are stored
// as numerics; floats round-tripped through a float8 column drift.
type FundingSample struct {
	Underlying string          `gorm:"primaryKey;size:32"`
	Ts         int64           `gorm:"primaryKey;autoIncrement:false"` // unix milliseconds
	Rate       decimal.Decimal `gorm:"type:numeric"`
}

func (FundingSample) TableName() string {
	return "funding_samples"
}

// Funding persists the funding moving-average buffer so a restarted roll
// quoter does not have to spend a full window warming up again.
type Funding struct {
	client *conn.Client
}

func NewFunding(client *conn.Client) (*Funding, error) {
	if err := client.Migrate(&FundingSample{}); err != nil {
		return nil, errors.Wrap(err, "migrate funding samples")
	}
	return &Funding{client: client}, nil
}

// Save replaces the stored buffer of one underlying with the given samples.
func (f *Funding) Save(ctx context.Context, underlying string, samples []market.Sample) error {
	rows := make([]FundingSample, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, FundingSample{
			Underlying: underlying,
			Ts:         int64(s.Ts * 1e3),
			Rate:       decimal.NewFromFloat(s.Value),
		})
	}

	db := f.client.DB().WithContext(ctx)
	if len(rows) == 0 {
		return db.Where("underlying = ?", underlying).Delete(&FundingSample{}).Error
	}

	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 500).Error; err != nil {
		return errors.Wrap(err, "upsert funding samples").With("underlying", underlying)
	}

	// Drop rows older than the oldest sample still in the buffer.
	return db.Where("underlying = ? AND ts < ?", underlying, rows[0].Ts).
		Delete(&FundingSample{}).Error
}

// Load returns the stored buffer of one underlying in chronological order.
func (f *Funding) Load(ctx context.Context, underlying string) ([]market.Sample, error) {
	var rows []FundingSample
	if err := f.client.DB().WithContext(ctx).
		Where("underlying = ?", underlying).
		Order("ts asc").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load funding samples").With("underlying", underlying)
	}

	samples := make([]market.Sample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, market.Sample{
			Ts:    float64(row.Ts) / 1e3,
			Value: row.Rate.InexactFloat64(),
		})
	}
	return samples, nil
}

// Prune deletes samples older than the retention horizon, for operators
// running the table on a small instance.
func (f *Funding) Prune(ctx context.Context, underlying string, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	return f.client.DB().WithContext(ctx).
		Where("underlying = ? AND ts < ?", underlying, cutoff).
		Delete(&FundingSample{}).Error
}
