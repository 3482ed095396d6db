package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Outcome decides how a stub payment ends: the event type and, for failures, a reason.
type Outcome interface {
	Decide() (EventType, string)
}

// RandomOutcome succeeds 95% of the time.
type RandomOutcome struct{}

func (RandomOutcome) Decide() (EventType, string) {
	return calcOutcome(rand.Intn(101)) // 101 because Intn is exclusive of the upper bound
}

// FixedOutcome always ends the same way.
type FixedOutcome struct {
	Type   EventType
	Reason string
}

func (f FixedOutcome) Decide() (EventType, string) {
	return f.Type, f.Reason
}

var refusalReasons = []string{"insufficient_funds", "card_declined", "expired_card", "fraud_suspected", "processing_error"}

func calcOutcome(n int) (EventType, string) {
	if n < 95 {
		return EventPaymentSucceeded, ""
	}
	other := n - 95
	if other == 0 || other > len(refusalReasons) {
		return EventPaymentFailed, "unknown reason"
	}
	return EventPaymentFailed, refusalReasons[other-1]
}

// StubProvider is a local stand-in for the payment provider. It accepts intents on
// POST /v1/payment_intents and later reports their outcome to webhookURL as a signed event.
type StubProvider struct {
	webhookURL string
	secret     string
	outcome    Outcome
	delay      time.Duration
	client     *http.Client
	log        *slog.Logger
	router     chi.Router

	mu      sync.Mutex
	intents map[string]*Intent // by idempotency key
	pending sync.WaitGroup
}

func NewStubProvider(webhookURL, secret string, outcome Outcome, delay time.Duration, log *slog.Logger) *StubProvider {
	s := &StubProvider{
		webhookURL: webhookURL,
		secret:     secret,
		outcome:    outcome,
		delay:      delay,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		intents:    make(map[string]*Intent),
	}
	r := chi.NewRouter()
	r.Post("/v1/payment_intents", s.createIntent)
	s.router = r
	return s
}

func (s *StubProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until every scheduled webhook has been delivered or given up on.
func (s *StubProvider) Wait() {
	s.pending.Wait()
}

func (s *StubProvider) createIntent(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":"missing api key"}`, http.StatusUnauthorized)
		return
	}

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.AmountMinor < 0 || req.Currency == "" {
		http.Error(w, `{"error":"amount and currency are required"}`, http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.OrderID.String()
	}

	s.mu.Lock()
	intent, seen := s.intents[key]
	if !seen {
		id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		intent = &Intent{
			ID:           id,
			ClientSecret: id + "_secret",
			Status:       "requires_payment_method",
			AmountMinor:  req.AmountMinor,
			Currency:     req.Currency,
		}
		s.intents[key] = intent
		s.pending.Add(1)
	}
	s.mu.Unlock()

	if !seen {
		go s.settle(*intent, req)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(intent)
}

func (s *StubProvider) settle(intent Intent, req IntentRequest) {
	defer s.pending.Done()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	eventType, reason := s.outcome.Decide()
	payload, err := json.Marshal(Event{
		ID:      "evt_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:    eventType,
		Created: time.Now().Unix(),
		Data: EventData{
			OrderID:          req.OrderID.String(),
			OrderNumber:      req.OrderNumber,
			PaymentReference: intent.ID,
			AmountMinor:      req.AmountMinor,
			Currency:         req.Currency,
			FailureReason:    reason,
		},
	})
	if err != nil {
		s.log.Error("failed to marshal stub event", slog.Any("error", err))
		return
	}

	if err := s.deliver(payload); err != nil {
		s.log.Warn("stub webhook delivery failed",
			slog.String("intent_id", intent.ID),
			slog.Any("error", err))
		return
	}
	s.log.Info("stub payment settled",
		slog.String("intent_id", intent.ID),
		slog.String("order_number", req.OrderNumber),
		slog.String("event_type", string(eventType)))
}

func (s *StubProvider) deliver(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, payload, time.Now()))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint answered %d", resp.StatusCode)
	}
	return nil
}
