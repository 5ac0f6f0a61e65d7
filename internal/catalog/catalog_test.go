package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/sadhana/internal/journal"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   journal.Item
		want journal.Item
	}{
		{journal.Item{ID: " yoga ", Name: "<b>Yoga</b>", Points: 10}, journal.Item{ID: "yoga", Name: "Yoga", Points: 10}},
		{journal.Item{ID: "x", Name: "Surya & Chandra<script>alert(1)</script>", Points: -3}, journal.Item{ID: "x", Name: "Surya & Chandra", Points: 0}},
		{journal.Item{ID: "p", Name: "  Pranayama  ", Points: 5, Active: true}, journal.Item{ID: "p", Name: "Pranayama", Points: 5, Active: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func TestNew_FiltersInactiveAndDuplicates(t *testing.T) {
	c := New([]journal.Item{
		{ID: "yoga", Name: "Yoga", Points: 10, Active: true},
		{ID: "old", Name: "Old", Points: 99, Active: false},
		{ID: "", Name: "Nameless", Points: 1, Active: true},
		{ID: "yoga", Name: "Yoga again", Points: 50, Active: true},
		{ID: "med", Name: "Meditation", Points: 20, Active: true},
	})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"med", "yoga"}, c.IDs())
	assert.Equal(t, "yoga", c.Items()[0].ID)

	it, ok := c.Lookup("yoga")
	assert.True(t, ok)
	assert.Equal(t, 10, it.Points)

	_, ok = c.Lookup("old")
	assert.False(t, ok)
	assert.Equal(t, 99, c.Points("old"), "deactivated items keep their value")
	assert.Equal(t, 20, c.Points("med"))
	assert.Equal(t, 0, c.Points("never"))
}

func TestIndex_FeedsPoints(t *testing.T) {
	c := New([]journal.Item{
		{ID: "yoga", Points: 10, Active: true},
		{ID: "med", Points: 20, Active: true},
	})
	log := journal.Log{
		{DayKey: "2024-02-05", ItemID: "yoga"},
		{DayKey: "2024-02-05", ItemID: "yoga"},
		{DayKey: "2024-02-04", ItemID: "med"},
		{DayKey: "2024-02-04", ItemID: "gone"},
	}
	assert.Equal(t, 40, journal.Points(log, c.Index()))
}

func TestIndex_ValuesDeactivatedItems(t *testing.T) {
	c := New([]journal.Item{
		{ID: "yoga", Points: 10, Active: true},
		{ID: "old", Points: 7, Active: false},
		{ID: "old", Points: 70, Active: true},
	})
	assert.Equal(t, []string{"yoga"}, c.IDs())

	log := journal.Log{
		{DayKey: "2024-02-05", ItemID: "yoga"},
		{DayKey: "2024-02-04", ItemID: "old"},
	}
	assert.Equal(t, 17, journal.Points(log, c.Index()))
}
