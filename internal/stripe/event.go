package stripe

import (
	"encoding/json"
	"fmt"
)

// Типы событий вебхука, обрабатываемые сервисом.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// Event описывает конверт события вебхука Stripe.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent разбирает конверт события из тела запроса вебхука.
func ParseEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("event missing id or type")
	}
	return &e, nil
}

// EventPayload — размеченное объединение полезных нагрузок событий.
// Декодирование происходит один раз на границе доверия, дальше
// диспетчеризация идёт по конкретному типу.
type EventPayload interface {
	isEventPayload()
}

// CheckoutCompleted содержит завершённую чекаут-сессию.
type CheckoutCompleted struct {
	Session CheckoutSession
}

// PaymentSucceeded содержит успешное платёжное намерение.
type PaymentSucceeded struct {
	Intent PaymentIntent
}

// PaymentFailed содержит неуспешное платёжное намерение.
type PaymentFailed struct {
	Intent PaymentIntent
}

// UnknownPayload описывает событие типа, который сервис не обрабатывает.
type UnknownPayload struct {
	Type string
}

func (CheckoutCompleted) isEventPayload() {}
func (PaymentSucceeded) isEventPayload()  {}
func (PaymentFailed) isEventPayload()     {}
func (UnknownPayload) isEventPayload()    {}

// Payload декодирует полезную нагрузку события в конкретный тип.
func (e *Event) Payload() (EventPayload, error) {
	switch e.Type {
	case EventCheckoutSessionCompleted:
		var s CheckoutSession
		if err := json.Unmarshal(e.Data.Object, &s); err != nil {
			return nil, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		return CheckoutCompleted{Session: s}, nil
	case EventPaymentIntentSucceeded:
		var p PaymentIntent
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("unmarshal payment intent: %w", err)
		}
		return PaymentSucceeded{Intent: p}, nil
	case EventPaymentIntentFailed:
		var p PaymentIntent
		if err := json.Unmarshal(e.Data.Object, &p); err != nil {
			return nil, fmt.Errorf("unmarshal payment intent: %w", err)
		}
		return PaymentFailed{Intent: p}, nil
	default:
		return UnknownPayload{Type: e.Type}, nil
	}
}
