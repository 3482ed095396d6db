package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPendingPayment, OrderStatusPaid, true},
		{OrderStatusPendingPayment, OrderStatusFailed, true},
		{OrderStatusPendingPayment, OrderStatusCancelled, true},
		{OrderStatusFailed, OrderStatusPaid, true},
		{OrderStatusCancelled, OrderStatusPaid, true},
		{OrderStatusFailed, OrderStatusCancelled, false},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusPaid, OrderStatusPendingPayment, false},
		{OrderStatusFailed, OrderStatusPendingPayment, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
	assert.True(t, OrderStatusPaid.IsTerminal())
	assert.False(t, OrderStatusFailed.IsTerminal())
}
