package service

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const orderNumberPrefix = "ORD-"

// newOrderNumber returns a human-facing, time-sortable order number.
func newOrderNumber(now time.Time) string {
	return orderNumberPrefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
