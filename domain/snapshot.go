package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

const SnapshotVersion = 1

// Optional is an explicitly nullable value. An absent value is encoded as JSON null,
// never omitted, so readers can tell "not applicable" apart from "not captured".
type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

type ProcessingWindow struct {
	Mode            ProcessingMode `json:"mode"`
	MinDays         int32          `json:"min_days"`
	MaxDays         int32          `json:"max_days"`
	EstimatedShipBy time.Time      `json:"estimated_ship_by"`
}

type ReturnPolicySource string

const (
	ReturnPolicyFromListing ReturnPolicySource = "listing"
	ReturnPolicyFromShop    ReturnPolicySource = "shop"
)

type ReturnPolicy struct {
	Type       ReturnPolicyType   `json:"type"`
	WindowDays int32              `json:"window_days"`
	Source     ReturnPolicySource `json:"source"`
}

// Snapshot is the frozen catalog state attached to an order item at purchase time.
type Snapshot struct {
	Version           int                         `json:"version"`
	Title             string                      `json:"title"`
	ListingType       string                      `json:"listing_type"`
	VariantSelections Optional[[]Selection]       `json:"variant_selections"`
	Personalization   Optional[map[string]string] `json:"personalization"`
	Processing        Optional[ProcessingWindow]  `json:"processing"`
	ReturnPolicy      Optional[ReturnPolicy]      `json:"return_policy"`
	CapturedAt        time.Time                   `json:"captured_at"`
}
