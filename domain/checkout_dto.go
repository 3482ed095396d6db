package domain

import "github.com/google/uuid"

type CheckoutRequest struct {
	BuyerID         string
	IdempotencyKey  string
	ShippingAddress ShippingAddress
	// ClientPrices are the prices the client believes it is paying. They are only
	// compared against the server-side price for logging and are never charged.
	ClientPrices map[uuid.UUID]int64
}

type CheckoutResponse struct {
	Order    *Order
	Replayed bool
}
