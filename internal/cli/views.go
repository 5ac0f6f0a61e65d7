package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/sadhana/internal/catalog"
	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/engine"
	"github.com/roach88/sadhana/internal/journal"
)

// todayView is the home screen.
type todayView struct {
	engine.TodayView
	Mode       string `json:"mode"`
	MaxPerItem int    `json:"maxPerItem"`
	Reset      bool   `json:"reset,omitempty"`
}

func (v todayView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)  points: %d\n", v.DayKey, v.Mode, v.Points)
	if len(v.Items) == 0 {
		b.WriteString("  no items in catalog")
		return b.String()
	}
	for i, it := range v.Items {
		mark := " "
		if it.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "  [%s] %-24s %4d pts  %d/%d", mark, label(it.Item), it.Item.Points, it.Count, v.MaxPerItem)
		if i < len(v.Items)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// mutationView reports a done or delete.
type mutationView struct {
	Action  string        `json:"action"`
	Event   journal.Event `json:"event"`
	Applied bool          `json:"applied"`
	Extra   bool          `json:"extra"`
	Fresh   bool          `json:"fresh"`
	Points  int           `json:"points"`
	Marks   int           `json:"marks"`
}

func newMutationView(action string, ev journal.Event, o engine.Outcome) mutationView {
	return mutationView{
		Action:  action,
		Event:   ev,
		Applied: o.Applied,
		Extra:   o.Extra,
		Fresh:   o.Fresh,
		Points:  o.Points,
		Marks:   o.Marks,
	}
}

func (v mutationView) String() string {
	s := fmt.Sprintf("%s %s on %s", v.Action, v.Event.ItemID, v.Event.DayKey)
	if v.Extra {
		s += " (extra)"
	}
	if !v.Fresh && v.Applied {
		s += " (offline view)"
	}
	return fmt.Sprintf("%s; points %d, today %d", s, v.Points, v.Marks)
}

// logView is a page range of the journey, or the whole log.
type logView struct {
	Mode    string     `json:"mode"`
	Page    int        `json:"page,omitempty"`
	HasMore bool       `json:"hasMore"`
	Events  []eventRow `json:"events"`
}

type eventRow struct {
	DayKey string `json:"dayKey"`
	ItemID string `json:"itemId"`
	Name   string `json:"name,omitempty"`
	Label  string `json:"label"`
}

func newLogView(mode string, log journal.Log, cat *catalog.Catalog, clock daykey.Clock) logView {
	v := logView{Mode: mode, Events: make([]eventRow, 0, len(log))}
	for _, ev := range log {
		row := eventRow{DayKey: ev.DayKey, ItemID: ev.ItemID}
		if it, ok := cat.Lookup(ev.ItemID); ok {
			row.Name = it.Name
		}
		row.Label = ev.DayKey
		if l, err := daykey.DisplayLabel(ev.DayKey); err == nil {
			row.Label = l
		}
		if ago, err := daykey.Ago(clock, ev.DayKey); err == nil {
			row.Label += " (" + ago + ")"
		}
		v.Events = append(v.Events, row)
	}
	return v
}

func (v logView) String() string {
	if len(v.Events) == 0 {
		return "journal is empty"
	}
	var b strings.Builder
	day := ""
	for _, ev := range v.Events {
		if ev.DayKey != day {
			if day != "" {
				b.WriteByte('\n')
			}
			day = ev.DayKey
			fmt.Fprintf(&b, "%s\n", ev.Label)
		}
		name := ev.ItemID
		if ev.Name != "" {
			name = fmt.Sprintf("%s (%s)", ev.Name, ev.ItemID)
		}
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	if v.HasMore {
		fmt.Fprintf(&b, "\nmore available: --pages %d", v.Page+1)
	}
	return strings.TrimRight(b.String(), "\n")
}

// pointsView reports the ledger, and the repair when recomputed.
type pointsView struct {
	Points int    `json:"points"`
	Mode   string `json:"mode"`
	Before *int   `json:"before,omitempty"`
}

func (v pointsView) String() string {
	if v.Before != nil {
		return fmt.Sprintf("points: %d (was %d)", v.Points, *v.Before)
	}
	return fmt.Sprintf("points: %d", v.Points)
}

// decayView reports the decay preference.
type decayView struct {
	Decay  *int `json:"decay"`
	Pushed bool `json:"pushed"`
}

func (v decayView) String() string {
	if v.Decay == nil {
		return "decay: not set"
	}
	s := fmt.Sprintf("decay: %d", *v.Decay)
	if v.Pushed {
		s += " (synced)"
	}
	return s
}

// catalogView lists the active items.
type catalogView struct {
	Items  []journal.Item `json:"items"`
	Source string         `json:"source"`
}

func (v catalogView) String() string {
	if len(v.Items) == 0 {
		return "catalog is empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d items (%s)", len(v.Items), v.Source)
	for _, it := range v.Items {
		fmt.Fprintf(&b, "\n  %-24s %4d pts", label(it), it.Points)
	}
	return b.String()
}

// sessionView reports sign-in state and any guest upload.
type sessionView struct {
	LoggedIn  bool   `json:"loggedIn"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Mode      string `json:"mode"`
	Submitted int    `json:"submitted"`
	Conflicts int    `json:"conflicts"`
	Extras    int    `json:"extras"`
	SyncError string `json:"syncError,omitempty"`
}

func (v sessionView) String() string {
	if !v.LoggedIn {
		return "signed out (guest mode)"
	}
	who := v.UserID
	if v.Email != "" {
		who = v.Email
	}
	s := fmt.Sprintf("signed in as %s (%s)", who, v.Mode)
	if v.Submitted > 0 || v.Conflicts > 0 {
		s += fmt.Sprintf("; guest upload: %d submitted, %d already present", v.Submitted, v.Conflicts)
		if v.Extras > 0 {
			s += fmt.Sprintf(", %d kept as extras", v.Extras)
		}
	}
	if v.SyncError != "" {
		s += "; guest upload failed: " + v.SyncError
	}
	return s
}

// migrateView reports stored schema versions before and after migration.
type migrateView struct {
	LogKey     string `json:"logKey"`
	LogFrom    int    `json:"logFrom"`
	LogTo      int    `json:"logTo"`
	Events     int    `json:"events"`
	ExtrasFrom int    `json:"extrasFrom"`
	ExtrasTo   int    `json:"extrasTo"`
	Extras     int    `json:"extras"`
}

func (v migrateView) String() string {
	return fmt.Sprintf("%s: v%s -> v%s (%d events)\nextras: v%s -> v%s (%d events)",
		v.LogKey, version(v.LogFrom), version(v.LogTo), v.Events,
		version(v.ExtrasFrom), version(v.ExtrasTo), v.Extras)
}

// tokenView is an issued access token.
type tokenView struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
}

func (v tokenView) String() string {
	return v.Token
}

func label(it journal.Item) string {
	if it.Name == "" || it.Name == it.ID {
		return it.ID
	}
	return fmt.Sprintf("%s (%s)", it.Name, it.ID)
}

func version(v int) string {
	if v < 0 {
		return "-"
	}
	return fmt.Sprint(v)
}
