package trackerd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/journal"
)

// Repository errors, mapped to HTTP responses by the handlers.
var (
	ErrAlreadyOpted  = errors.New("sadana already opted for this day")
	ErrEntryNotFound = errors.New("tracker entry not found")
	ErrUnknownSadana = errors.New("sadana not found")
)

// OpenDB opens (creating if needed) the tracker database at path and migrates
// the schema. SQLite serializes writers, so the pool holds one connection.
func OpenDB(path string, debug bool) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open tracker db: %w", err)
		}
	}

	level := logger.Silent
	if debug {
		level = logger.Info
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&User{}, &Sadana{}, &TrackerEntry{}); err != nil {
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}
	return db, nil
}

// Repo is the tracker's data access layer.
type Repo struct {
	db *gorm.DB
}

// NewRepo wraps db.
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// SeedCatalog upserts items, keeping their order. Names are sanitized the
// same way the client sanitizes them.
func (r *Repo) SeedCatalog(ctx context.Context, items []journal.Item) error {
	rows := make([]Sadana, 0, len(items))
	for i, raw := range items {
		it := catalog.Normalize(raw)
		if it.ID == "" {
			continue
		}
		rows = append(rows, Sadana{ID: it.ID, Name: it.Name, Points: it.Points, Active: it.Active, Position: i})
	}
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "points", "active", "position"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	return nil
}

// Catalog returns every item in catalog order.
func (r *Repo) Catalog(ctx context.Context) ([]Sadana, error) {
	var rows []Sadana
	if err := r.db.WithContext(ctx).Order("position ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return rows, nil
}

// EnsureUser returns the user row, creating it on first sight.
func (r *Repo) EnsureUser(ctx context.Context, id, email string) (User, error) {
	u := User{ID: id}
	err := r.db.WithContext(ctx).
		Where(User{ID: id}).
		Attrs(User{Email: email}).
		FirstOrCreate(&u).Error
	if err != nil {
		return User{}, fmt.Errorf("ensure user %s: %w", id, err)
	}
	return u, nil
}

// User loads a user by id.
func (r *Repo) User(ctx context.Context, id string) (User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

// SetDecay stores the user's decay preference.
func (r *Repo) SetDecay(ctx context.Context, id string, decay int) (User, error) {
	err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("decay_points", decay).Error
	if err != nil {
		return User{}, fmt.Errorf("set decay: %w", err)
	}
	return r.User(ctx, id)
}

// Page returns the user's completions grouped by day, newest day first.
// Pagination counts days, not entries.
func (r *Repo) Page(ctx context.Context, userID string, page, limit int) (trackerPage, error) {
	db := r.db.WithContext(ctx)
	out := trackerPage{Results: []dayResult{}, Page: page, Limit: limit}

	if err := db.Model(&TrackerEntry{}).Where("user_id = ?", userID).
		Distinct("day_key").Count(&out.TotalResults).Error; err != nil {
		return trackerPage{}, fmt.Errorf("page: count: %w", err)
	}
	out.TotalPages = int((out.TotalResults + int64(limit) - 1) / int64(limit))
	if out.TotalPages < 1 {
		out.TotalPages = 1
	}

	var days []string
	if err := db.Model(&TrackerEntry{}).Where("user_id = ?", userID).
		Distinct("day_key").Order("day_key DESC").
		Offset((page-1)*limit).Limit(limit).
		Pluck("day_key", &days).Error; err != nil {
		return trackerPage{}, fmt.Errorf("page: days: %w", err)
	}
	if len(days) == 0 {
		return out, nil
	}

	var entries []TrackerEntry
	if err := db.Where("user_id = ? AND day_key IN ?", userID, days).
		Order("day_key DESC, id ASC").Find(&entries).Error; err != nil {
		return trackerPage{}, fmt.Errorf("page: entries: %w", err)
	}

	byDay := make(map[string]*dayResult, len(days))
	for _, d := range days {
		out.Results = append(out.Results, dayResult{Date: d, OptedSadanas: []optedSadana{}})
	}
	for i := range out.Results {
		byDay[out.Results[i].Date] = &out.Results[i]
	}
	for _, e := range entries {
		b := byDay[e.DayKey]
		b.OptedSadanas = append(b.OptedSadanas, optedSadana{Sadana: e.SadanaID, DateTime: e.DayKey + "T00:00:00.000Z"})
	}
	return out, nil
}

// Opt records a completion and credits the item's points to the user, in
// one transaction. A second completion of the same item on the same day
// fails with ErrAlreadyOpted.
func (r *Repo) Opt(ctx context.Context, userID string, ev journal.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Sadana
		if err := tx.First(&s, "id = ? AND active = ?", ev.ItemID, true).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownSadana
			}
			return err
		}

		var n int64
		if err := tx.Model(&TrackerEntry{}).
			Where("user_id = ? AND day_key = ? AND sadana_id = ?", userID, ev.DayKey, ev.ItemID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyOpted
		}

		entry := TrackerEntry{UserID: userID, DayKey: ev.DayKey, SadanaID: ev.ItemID}
		if err := tx.Create(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyOpted
			}
			return err
		}
		return tx.Model(&User{}).Where("id = ?", userID).
			Update("sadhana_points", gorm.Expr("sadhana_points + ?", s.Points)).Error
	})
}

// Unopt deletes a completion and debits its points, floored at zero.
func (r *Repo) Unopt(ctx context.Context, userID string, ev journal.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND day_key = ? AND sadana_id = ?", userID, ev.DayKey, ev.ItemID).
			Delete(&TrackerEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrEntryNotFound
		}

		var s Sadana
		if err := tx.First(&s, "id = ?", ev.ItemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return tx.Model(&User{}).Where("id = ?", userID).
			Update("sadhana_points", gorm.Expr("MAX(sadhana_points - ?, 0)", s.Points)).Error
	})
}
