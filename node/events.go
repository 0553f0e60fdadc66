package node

import (
	"encoding/json"
	"github.com/go-errors/errors"
	"strconv"
	"time"
)

const (
	EventTypePaymentReceived   = "payment_received"
	EventTypePaymentClaimable  = "payment_claimable"
	EventTypePaymentSuccessful = "payment_successful"
	EventTypePaymentFailed     = "payment_failed"
	EventTypeChannelPending    = "channel_pending"
	EventTypeChannelReady      = "channel_ready"
	EventTypeChannelClosed     = "channel_closed"
)

// Event is emitted by the node and stays pending until acknowledged.
// The set of implementations is closed, anything the shell does not
// know about is an UnknownEvent.
type Event interface {
	EventType() string
	isEvent()
}

type PaymentReceived struct {
	PaymentID   string `json:"paymentId"`
	PaymentHash string `json:"paymentHash"`
	AmountMsat  uint64 `json:"amountMsat"`
}

type PaymentClaimable struct {
	PaymentID           string    `json:"paymentId"`
	PaymentHash         string    `json:"paymentHash"`
	ClaimableAmountMsat uint64    `json:"claimableAmountMsat"`
	ClaimDeadline       time.Time `json:"claimDeadline,omitempty"`
}

type PaymentSuccessful struct {
	PaymentID       string `json:"paymentId"`
	PaymentHash     string `json:"paymentHash"`
	PaymentPreimage string `json:"paymentPreimage"`
	FeePaidMsat     uint64 `json:"feePaidMsat"`
}

type PaymentFailed struct {
	PaymentID   string `json:"paymentId"`
	PaymentHash string `json:"paymentHash"`
	Reason      string `json:"reason"`
}

type OutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o OutPoint) String() string {
	return o.Txid + ":" + strconv.FormatUint(uint64(o.Vout), 10)
}

type ChannelPending struct {
	ChannelID          string   `json:"channelId"`
	CounterpartyNodeID string   `json:"counterpartyNodeId"`
	FundingTxo         OutPoint `json:"fundingTxo"`
}

type ChannelReady struct {
	ChannelID          string `json:"channelId"`
	ShortChannelID     uint64 `json:"shortChannelId"`
	CounterpartyNodeID string `json:"counterpartyNodeId"`
}

type ChannelClosed struct {
	ChannelID          string `json:"channelId"`
	CounterpartyNodeID string `json:"counterpartyNodeId"`
	Reason             string `json:"reason"`
}

// UnknownEvent carries an event of a type this build does not understand.
// It is still delivered so it can be acknowledged.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (*PaymentReceived) EventType() string   { return EventTypePaymentReceived }
func (*PaymentClaimable) EventType() string  { return EventTypePaymentClaimable }
func (*PaymentSuccessful) EventType() string { return EventTypePaymentSuccessful }
func (*PaymentFailed) EventType() string     { return EventTypePaymentFailed }
func (*ChannelPending) EventType() string    { return EventTypeChannelPending }
func (*ChannelReady) EventType() string      { return EventTypeChannelReady }
func (*ChannelClosed) EventType() string     { return EventTypeChannelClosed }
func (e *UnknownEvent) EventType() string    { return e.Type }

func (*PaymentReceived) isEvent()   {}
func (*PaymentClaimable) isEvent()  {}
func (*PaymentSuccessful) isEvent() {}
func (*PaymentFailed) isEvent()     {}
func (*ChannelPending) isEvent()    {}
func (*ChannelReady) isEvent()      {}
func (*ChannelClosed) isEvent()     {}
func (*UnknownEvent) isEvent()      {}

var eventTypes = map[string]func() Event{
	EventTypePaymentReceived:   func() Event { return &PaymentReceived{} },
	EventTypePaymentClaimable:  func() Event { return &PaymentClaimable{} },
	EventTypePaymentSuccessful: func() Event { return &PaymentSuccessful{} },
	EventTypePaymentFailed:     func() Event { return &PaymentFailed{} },
	EventTypeChannelPending:    func() Event { return &ChannelPending{} },
	EventTypeChannelReady:      func() Event { return &ChannelReady{} },
	EventTypeChannelClosed:     func() Event { return &ChannelClosed{} },
}

type eventEnvelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
}

func EncodeEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, errors.New("Could not encode nil event")
	}

	var body json.RawMessage

	if unknown, ok := event.(*UnknownEvent); ok {
		body = unknown.Raw
	} else {
		b, err := json.Marshal(event)
		if err != nil {
			return nil, errors.Errorf("Could not encode %v event: %v", event.EventType(), err)
		}
		body = b
	}

	return json.Marshal(&eventEnvelope{
		Type:  event.EventType(),
		Event: body,
	})
}

// DecodeEvent never fails for well formed envelopes, unknown types
// decode to UnknownEvent.
func DecodeEvent(payload []byte) (Event, error) {
	envelope := eventEnvelope{}

	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Errorf("Could not decode event envelope: %v", err)
	}

	factory, ok := eventTypes[envelope.Type]
	if !ok {
		return &UnknownEvent{Type: envelope.Type, Raw: envelope.Event}, nil
	}

	event := factory()

	if len(envelope.Event) > 0 {
		if err := json.Unmarshal(envelope.Event, event); err != nil {
			return nil, errors.Errorf("Could not decode %v event: %v", envelope.Type, err)
		}
	}

	return event, nil
}
