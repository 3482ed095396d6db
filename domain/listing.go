package domain

import (
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusPublished ListingStatus = "published"
	ListingStatusRemoved   ListingStatus = "removed"
)

type ProcessingMode string

const (
	ProcessingReadyToShip ProcessingMode = "ready_to_ship"
	ProcessingMadeToOrder ProcessingMode = "made_to_order"
)

type ReturnPolicyType string

const (
	ReturnPolicyNone     ReturnPolicyType = "no_returns"
	ReturnPolicyReturns  ReturnPolicyType = "returns"
	ReturnPolicyExchange ReturnPolicyType = "exchanges"
)

// Selection is one variant option, e.g. {Group: "Size", Value: "M"}.
type Selection struct {
	Group string `json:"group"`
	Value string `json:"value"`
}

type PersonalizationField struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Required  bool   `json:"required"`
	MaxLength int    `json:"max_length,omitempty"`
}

type Shop struct {
	ID               uuid.UUID
	OwnerUserID      string
	ReturnPolicyType ReturnPolicyType
	ReturnWindowDays int32
}

type Listing struct {
	ID                   uuid.UUID
	ShopID               uuid.UUID
	SellerID             string
	Title                string
	ListingType          string
	Slug                 string
	Status               ListingStatus
	RestrictedToUserID   *string
	BasePrice            int64
	BaseQuantity         int32
	Currency             string
	ProcessingMode       ProcessingMode
	ProcessingMinDays    int32
	ProcessingMaxDays    int32
	ReturnPolicyType     *ReturnPolicyType
	ReturnWindowDays     *int32
	PersonalizationRules []PersonalizationField
	UpdatedAt            time.Time
}

// VisibleTo reports whether a private listing may be bought by the given user.
func (l *Listing) VisibleTo(userID string) bool {
	return l.RestrictedToUserID == nil || *l.RestrictedToUserID == userID
}

type Variant struct {
	ID               uuid.UUID
	ListingID        uuid.UUID
	Selections       []Selection
	PriceOverride    *int64
	QuantityOverride *int32
	Active           bool
}
