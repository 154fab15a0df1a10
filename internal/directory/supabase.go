package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"
)

// Supabase resolves callers from a `customers` table. Unknown keys fall back
// to the demo directory so an unrecognized number still gets a usable context.
type Supabase struct {
	client   *supabase.Client
	fallback *Demo
}

type customerRow struct {
	CustomerName    string `json:"customer_name"`
	EquipmentType   string `json:"equipment_type"`
	LastServiceDate string `json:"last_service_date"`
	CallHistory     string `json:"call_history"`
}

func NewSupabase(url, serviceKey string) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &Supabase{client: client, fallback: NewDemo()}, nil
}

func (s *Supabase) GetContext(ctx context.Context, callerKey string) (CallerContext, error) {
	if callerKey == "" {
		return s.fallback.GetContext(ctx, callerKey)
	}
	data, _, err := s.client.From("customers").
		Select("customer_name,equipment_type,last_service_date,call_history", "", false).
		Eq("phone_primary", callerKey).
		Execute()
	if err != nil {
		return CallerContext{}, fmt.Errorf("directory lookup %q: %w", callerKey, err)
	}
	var rows []customerRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return CallerContext{}, fmt.Errorf("directory decode: %w", err)
	}
	if len(rows) == 0 {
		log.Printf("directory: no record for %s, using fallback", callerKey)
		return s.fallback.GetContext(ctx, callerKey)
	}
	row := rows[0]
	cc := CallerContext{
		CustomerName:    row.CustomerName,
		EquipmentType:   row.EquipmentType,
		LastServiceDate: row.LastServiceDate,
		CurrentDate:     time.Now().Format("2006-01-02"),
		TimeWindows:     strings.Join(timeWindows[:5], ", "),
		CallHistory:     row.CallHistory,
	}
	if cc.LastServiceDate == "" {
		cc.LastServiceDate = "No previous service"
	}
	if cc.CallHistory == "" {
		cc.CallHistory = "No recent calls"
	}
	return cc, nil
}
