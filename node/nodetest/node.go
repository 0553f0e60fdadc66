// Package nodetest provides a scriptable node.Node for tests.
package nodetest

import (
	"context"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/mock"
	"github.com/the-lightning-land/lnshell/node"
	"sync"
	"time"
)

// Node mocks every operation with testify except the event source, which
// is an in-memory queue that counts acknowledgments.
type Node struct {
	mock.Mock

	mu      sync.Mutex
	pending []node.Event
	acks    map[node.Event]int
	ackErrs []error
}

var _ node.Node = (*Node)(nil)

func New() *Node {
	return &Node{
		acks: make(map[node.Event]int),
	}
}

func (n *Node) Start() error {
	return n.Called().Error(0)
}

func (n *Node) Stop() error {
	return n.Called().Error(0)
}

func (n *Node) Info(ctx context.Context) (*node.Info, error) {
	args := n.Called(ctx)
	info, _ := args.Get(0).(*node.Info)
	return info, args.Error(1)
}

func (n *Node) SyncWallets(ctx context.Context) error {
	return n.Called(ctx).Error(0)
}

func (n *Node) NewOnchainAddress(ctx context.Context) (string, error) {
	args := n.Called(ctx)
	return args.String(0), args.Error(1)
}

func (n *Node) ListBalances(ctx context.Context) (*node.Balances, error) {
	args := n.Called(ctx)
	balances, _ := args.Get(0).(*node.Balances)
	return balances, args.Error(1)
}

func (n *Node) ListChannels(ctx context.Context) ([]*node.Channel, error) {
	args := n.Called(ctx)
	channels, _ := args.Get(0).([]*node.Channel)
	return channels, args.Error(1)
}

func (n *Node) OpenChannel(ctx context.Context, peer *btcec.PublicKey, address string, amountSat uint64) (string, error) {
	args := n.Called(ctx, peer, address, amountSat)
	return args.String(0), args.Error(1)
}

func (n *Node) ReceiveInvoice(ctx context.Context, amountMsat uint64, description string, expiry time.Duration) (*node.Invoice, error) {
	args := n.Called(ctx, amountMsat, description, expiry)
	invoice, _ := args.Get(0).(*node.Invoice)
	return invoice, args.Error(1)
}

func (n *Node) ReceiveInvoiceViaJitChannel(ctx context.Context, amountMsat uint64, description string, expiry time.Duration, maxFeeMsat uint64) (*node.Invoice, error) {
	args := n.Called(ctx, amountMsat, description, expiry, maxFeeMsat)
	invoice, _ := args.Get(0).(*node.Invoice)
	return invoice, args.Error(1)
}

func (n *Node) SendPayment(ctx context.Context, invoice *node.Invoice) (string, error) {
	args := n.Called(ctx, invoice)
	return args.String(0), args.Error(1)
}

func (n *Node) SendPaymentUsingAmount(ctx context.Context, invoice *node.Invoice, amountMsat uint64) (string, error) {
	args := n.Called(ctx, invoice, amountMsat)
	return args.String(0), args.Error(1)
}

// Emit queues events to be returned by NextEvent.
func (n *Node) Emit(events ...node.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = append(n.pending, events...)
}

// FailAcks makes the next acknowledgments fail with the given errors,
// one per call.
func (n *Node) FailAcks(errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ackErrs = append(n.ackErrs, errs...)
}

func (n *Node) NextEvent() (node.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) == 0 {
		return nil, nil
	}

	return n.pending[0], nil
}

func (n *Node) EventHandled(event node.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.ackErrs) > 0 {
		err := n.ackErrs[0]
		n.ackErrs = n.ackErrs[1:]
		return err
	}

	if len(n.pending) == 0 || n.pending[0] != event {
		return node.ErrEventMismatch
	}

	n.pending = n.pending[1:]
	n.acks[event]++

	return nil
}

// Acks returns how often the event was acknowledged.
func (n *Node) Acks(event node.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.acks[event]
}

// Pending returns the number of unacknowledged events.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.pending)
}
