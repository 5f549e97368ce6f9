// Package model holds the shared data types for facility reconciliation.
package model

import "strings"

// Entity is a facility to be resolved. Name and Address are the already-known
// identifying fields; the remaining fields are whatever the input carried and
// are used only to build fallback records.
type Entity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
}

// Key returns a stable identifier for per-entity bookkeeping. It prefers the
// input ID and falls back to the normalised name and address.
func (e Entity) Key() string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(e.Name)) + "|" + strings.ToLower(strings.TrimSpace(e.Address))
}

// Facts are the reconcilable facility fields shared by raw source results and
// canonical records. Empty strings mean "not found".
type Facts struct {
	Phone           string   `json:"phone,omitempty"`
	OpenTime        string   `json:"open_time,omitempty"`
	CloseTime       string   `json:"close_time,omitempty"`
	MembershipPrice string   `json:"membership_price,omitempty"`
	PTPrice         string   `json:"pt_price,omitempty"`
	GroupClassPrice string   `json:"group_class_price,omitempty"`
	DayPassPrice    string   `json:"day_pass_price,omitempty"`
	MinimumPrice    string   `json:"minimum_price,omitempty"`
	PriceRange      string   `json:"price_range,omitempty"`
	PriceDetails    string   `json:"price_details,omitempty"`
	Discount        string   `json:"discount,omitempty"`
	Facilities      []string `json:"facilities,omitempty"`
}

// PriceTexts returns every non-empty price-bearing field.
func (f Facts) PriceTexts() []string {
	var out []string
	for _, s := range []string{
		f.MembershipPrice, f.PTPrice, f.GroupClassPrice, f.DayPassPrice,
		f.MinimumPrice, f.PriceRange, f.PriceDetails,
	} {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasAny reports whether any fact besides facilities is set.
func (f Facts) HasAny() bool {
	return f.Phone != "" || f.OpenTime != "" || f.CloseTime != "" ||
		len(f.PriceTexts()) > 0 || f.Discount != "" || len(f.Facilities) > 0
}
