package trackerd

import "time"

// User is an account known to the tracker. Rows are created on the first
// authenticated request.
type User struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Email         string    `gorm:"size:255" json:"email"`
	SadhanaPoints int       `gorm:"not null;default:0" json:"sadhanaPoints"`
	DecayPoints   *int      `json:"decayPoints"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Sadana is a catalog item.
type Sadana struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Points    int       `gorm:"not null;default:0" json:"points"`
	Active    bool      `gorm:"not null" json:"active"`
	Position  int       `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"-"`
}

// TrackerEntry is one completion. A user holds at most one entry per item per
// day.
type TrackerEntry struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_entry_user_day_item,priority:1;index:idx_entry_user_day,priority:1"`
	DayKey    string    `gorm:"size:10;not null;uniqueIndex:idx_entry_user_day_item,priority:2;index:idx_entry_user_day,priority:2"`
	SadanaID  string    `gorm:"size:64;not null;uniqueIndex:idx_entry_user_day_item,priority:3"`
	CreatedAt time.Time
}

// wire shapes

type entryBody struct {
	DayKey string `json:"dayKey" binding:"required"`
	ItemID string `json:"itemId" binding:"required"`
}

type optedSadana struct {
	Sadana   string `json:"sadana"`
	DateTime string `json:"dateTime"`
}

type dayResult struct {
	Date         string        `json:"date"`
	OptedSadanas []optedSadana `json:"optedSadanas"`
}

type trackerPage struct {
	Results      []dayResult `json:"results"`
	Page         int         `json:"page"`
	Limit        int         `json:"limit"`
	TotalPages   int         `json:"totalPages"`
	TotalResults int64       `json:"totalResults"`
}

type decayBody struct {
	DecayPoints *int `json:"decayPoints" binding:"required"`
}
