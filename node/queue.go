package node

import (
	"github.com/go-errors/errors"
	"github.com/the-lightning-land/lnshell/nodedb"
	"sync"
)

// Store persists pending events, payments in flight and the invoice
// subscription position.
type Store interface {
	PushEvent(payload []byte) (uint64, error)
	PeekEvent() (*nodedb.EventRecord, error)
	PopEvent(seq uint64) error
	CountEvents() (int, error)
	AddPayment(paymentHash string) error
	RemovePayment(paymentHash string) error
	ListPayments() ([]string, error)
	GetInvoiceCursor() (*nodedb.InvoiceCursor, error)
	SetInvoiceCursor(cursor *nodedb.InvoiceCursor) error
}

var _ Store = (*nodedb.DB)(nil)

// EventQueue hands out persisted events one at a time. The head is
// decoded once and the same value is returned until it is acknowledged,
// so acknowledgment compares by identity.
type EventQueue struct {
	mu      sync.Mutex
	store   Store
	head    Event
	headSeq uint64
	logger  Logger
}

func NewEventQueue(store Store, logger Logger) *EventQueue {
	if logger == nil {
		logger = noopLogger{}
	}

	return &EventQueue{
		store:  store,
		logger: logger,
	}
}

func (q *EventQueue) Push(event Event) error {
	payload, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	seq, err := q.store.PushEvent(payload)
	if err != nil {
		return err
	}

	q.logger.Debugf("Queued %v event #%v", event.EventType(), seq)

	return nil
}

func (q *EventQueue) Next() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head != nil {
		return q.head, nil
	}

	record, err := q.store.PeekEvent()
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, nil
	}

	event, err := DecodeEvent(record.Payload)
	if err != nil {
		// a corrupt record would block the queue forever
		q.logger.Warnf("Delivering undecodable event #%v: %v", record.Seq, err)
		event = &UnknownEvent{Type: "undecodable"}
	}

	q.head = event
	q.headSeq = record.Seq

	return event, nil
}

func (q *EventQueue) Handled(event Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil || event != q.head {
		return ErrEventMismatch
	}

	err := q.store.PopEvent(q.headSeq)
	if errors.Is(err, nodedb.ErrNotHead) {
		q.head = nil
		return ErrEventMismatch
	}

	if err != nil {
		return errors.Errorf("Could not acknowledge event #%v: %v", q.headSeq, err)
	}

	q.logger.Debugf("Acknowledged %v event #%v", event.EventType(), q.headSeq)

	q.head = nil
	q.headSeq = 0

	return nil
}
