package directory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CallerContext is a read-only snapshot of everything the agent needs to know
// about the person on the line. Fetched once per call, never re-fetched.
type CallerContext struct {
	CustomerName    string
	EquipmentType   string
	LastServiceDate string
	CurrentDate     string
	TimeWindows     string
	CallHistory     string
}

// Directory resolves a caller key (E.164 phone number) to a CallerContext.
// Implementations must return a fallback context for unknown keys rather than
// an error; a lookup error means the backend itself is unreachable.
type Directory interface {
	GetContext(ctx context.Context, callerKey string) (CallerContext, error)
}

type pastCall struct {
	Outcome string
	DaysAgo int
	Notes   string
}

type demoRecord struct {
	name        string
	equipment   string
	serviceDays int // days since last service
	history     []pastCall
}

// fallbackKey is the record served for unknown or empty caller keys.
const fallbackKey = "+15551234567"

var demoRecords = map[string]demoRecord{
	"+15551234567": {
		name:        "John Smith",
		equipment:   "furnace",
		serviceDays: 365,
		history:     []pastCall{{Outcome: "voicemail", DaysAgo: 3, Notes: "annual maintenance scheduling"}},
	},
	"+15559876543": {
		name:        "Sarah Johnson",
		equipment:   "hvac",
		serviceDays: 280,
	},
	"+15555551212": {
		name:        "Mike Davis",
		equipment:   "hot_water_heater",
		serviceDays: 135,
		history:     []pastCall{{Outcome: "voicemail", DaysAgo: 1, Notes: "water heater service reminder"}},
	},
}

var timeWindows = []string{
	"Monday 9:00 AM - 12:00 PM",
	"Monday 1:00 PM - 5:00 PM",
	"Tuesday 9:00 AM - 12:00 PM",
	"Tuesday 1:00 PM - 5:00 PM",
	"Wednesday 9:00 AM - 12:00 PM",
	"Wednesday 1:00 PM - 5:00 PM",
	"Thursday 9:00 AM - 12:00 PM",
	"Thursday 1:00 PM - 5:00 PM",
	"Friday 9:00 AM - 12:00 PM",
	"Friday 1:00 PM - 5:00 PM",
}

// Demo serves hardcoded customer records keyed by phone number.
type Demo struct {
	now func() time.Time
}

func NewDemo() *Demo { return &Demo{now: time.Now} }

func (d *Demo) GetContext(_ context.Context, callerKey string) (CallerContext, error) {
	rec, ok := demoRecords[callerKey]
	if !ok {
		rec = demoRecords[fallbackKey]
	}
	now := d.now()
	return CallerContext{
		CustomerName:    rec.name,
		EquipmentType:   rec.equipment,
		LastServiceDate: now.AddDate(0, 0, -rec.serviceDays).Format("2006-01-02"),
		CurrentDate:     now.Format("2006-01-02"),
		TimeWindows:     strings.Join(timeWindows[:5], ", "),
		CallHistory:     formatHistory(rec.history),
	}, nil
}

func formatHistory(calls []pastCall) string {
	if len(calls) == 0 {
		return "No recent calls"
	}
	items := make([]string, 0, len(calls))
	for _, c := range calls {
		day := fmt.Sprintf("%d days ago", c.DaysAgo)
		if c.DaysAgo == 1 {
			day = "yesterday"
		}
		items = append(items, fmt.Sprintf("We called %s and left a %s about %s", day, c.Outcome, c.Notes))
	}
	return strings.Join(items, "; ")
}
