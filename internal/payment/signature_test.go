package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

	err := newTestVerifier(now).Verify(payload, Sign(testSecret, payload, now.Add(-time.Minute)))
	assert.NoError(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"wrong secret", Sign("other", payload, now)},
		{"tampered payload", Sign(testSecret, []byte(`{"id":"evt_2"}`), now)},
		{"too old", Sign(testSecret, payload, now.Add(-6*time.Minute))},
		{"from the future", Sign(testSecret, payload, now.Add(6*time.Minute))},
		{"no v1", "t=1700000000"},
		{"bad timestamp", "t=abc,v1=00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestVerifier(now).Verify(payload, tt.header)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerify_AcceptsAnyOfSeveralSignatures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{}`)
	valid := Sign(testSecret, payload, now)

	header := "t=1700000000,v1=deadbeef," + valid[len("t=1700000000,"):]
	assert.NoError(t, newTestVerifier(now).Verify(payload, header))
}

func TestVerify_NoSecretFailsClosed(t *testing.T) {
	payload := []byte(`{}`)
	v := NewVerifier("", 0)
	assert.ErrorIs(t, v.Verify(payload, Sign("", payload, time.Now())), ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_1","type":"payment.failed","data":{"order_number":"ORD-1","failure_reason":"card_declined"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, ev.Type)
	assert.Equal(t, "ORD-1", ev.Data.OrderNumber)

	_, err = ParseEvent([]byte(`{"type":"payment.failed"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
