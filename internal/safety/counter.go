package safety

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

const dayLayout = "2006-01-02"

// DailyCounter is one row per (candidate, kind, local day). A new day is a
// new row, so rollover needs no reset.
type DailyCounter struct {
	CandidateID string    `gorm:"primaryKey;size:128"`
	Kind        string    `gorm:"primaryKey;size:32"`
	Day         string    `gorm:"primaryKey;size:10"`
	Count       int       `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DailyCounter{}); err != nil {
		return fmt.Errorf("safety: %w", err)
	}
	return nil
}

// DBCounter persists daily counters so limits survive restarts.
type DBCounter struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

func NewDBCounter(db *gorm.DB, loc *time.Location) *DBCounter {
	if loc == nil {
		loc = time.Local
	}
	return &DBCounter{db: db, loc: loc, now: time.Now}
}

func (c *DBCounter) day() string {
	return c.now().In(c.loc).Format(dayLayout)
}

func (c *DBCounter) Count(ctx context.Context, kind string) (int, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return 0, err
	}

	var row DailyCounter
	err = c.db.WithContext(ctx).
		Where("candidate_id = ? AND kind = ? AND day = ?", cid, kind, c.day()).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return 0, apperr.FromStorage(err, "safety counter")
	}
	return row.Count, nil
}

// Reserve creates today's row if needed and then increments it with a single
// conditional UPDATE, so concurrent callers never push the count past ceiling.
func (c *DBCounter) Reserve(ctx context.Context, kind string, ceiling int) (int, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	day := c.day()
	now := c.now().UTC()

	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&DailyCounter{CandidateID: cid, Kind: kind, Day: day, UpdatedAt: now}).Error
	if err != nil {
		return 0, apperr.FromStorage(err, "safety counter")
	}

	res := c.db.WithContext(ctx).
		Model(&DailyCounter{}).
		Where("candidate_id = ? AND kind = ? AND day = ? AND count < ?", cid, kind, day, ceiling).
		Updates(map[string]any{"count": gorm.Expr("count + 1"), "updated_at": now})
	if res.Error != nil {
		return 0, apperr.FromStorage(res.Error, "safety counter")
	}
	if res.RowsAffected == 0 {
		return ceiling, limitError(kind, ceiling)
	}

	return c.Count(ctx, kind)
}
