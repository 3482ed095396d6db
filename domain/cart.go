package domain

import (
	"time"

	"github.com/google/uuid"
)

type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine is a mutable cart entry. CachedUnitPrice is for display only and is never charged.
type CartLine struct {
	ID              uuid.UUID         `json:"id"`
	ListingID       uuid.UUID         `json:"listing_id"`
	VariantID       *uuid.UUID        `json:"variant_id"`
	Quantity        int32             `json:"quantity"`
	Personalization map[string]string `json:"personalization"`
	CachedUnitPrice int64             `json:"cached_unit_price"`
	AddedAt         time.Time         `json:"added_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}
