package node

import (
	"context"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-errors/errors"
	"time"
)

var (
	// ErrEventMismatch is returned when acknowledging an event that is not
	// the one currently returned by NextEvent, for example because it was
	// already acknowledged.
	ErrEventMismatch = errors.New("event is not the pending event")

	// ErrNoLiquiditySource is returned for JIT channel invoices when no LSP
	// is configured.
	ErrNoLiquiditySource = errors.New("no liquidity source configured")

	ErrInvalidAmount = errors.New("invalid amount")
)

type Info struct {
	Pubkey             string `json:"pubkey"`
	Alias              string `json:"alias"`
	Network            string `json:"network"`
	BlockHeight        uint32 `json:"blockHeight"`
	SyncedToChain      bool   `json:"syncedToChain"`
	SyncedToGraph      bool   `json:"syncedToGraph"`
	NumActiveChannels  uint32 `json:"numActiveChannels"`
	NumPendingChannels uint32 `json:"numPendingChannels"`
	PendingEvents      int    `json:"pendingEvents"`
}

type Balances struct {
	TotalOnchainSat         uint64 `json:"totalOnchainSat"`
	SpendableOnchainSat     uint64 `json:"spendableOnchainSat"`
	UnconfirmedOnchainSat   uint64 `json:"unconfirmedOnchainSat"`
	TotalLightningSat       uint64 `json:"totalLightningSat"`
	PendingOpenLightningSat uint64 `json:"pendingOpenLightningSat"`
}

type Channel struct {
	ChannelID          string `json:"channelId"`
	ShortChannelID     uint64 `json:"shortChannelId"`
	CounterpartyNodeID string `json:"counterpartyNodeId"`
	CapacitySat        uint64 `json:"capacitySat"`
	LocalBalanceSat    uint64 `json:"localBalanceSat"`
	IsUsable           bool   `json:"isUsable"`
	IsPrivate          bool   `json:"isPrivate"`
}

// Node is the lightning node the shell drives. Implementations must be safe
// for concurrent use, the command dispatcher and the event loop share one.
type Node interface {
	Start() error
	Stop() error
	Info(ctx context.Context) (*Info, error)

	// SyncWallets blocks until the node's on-chain wallet caught up with
	// the chain.
	SyncWallets(ctx context.Context) error
	NewOnchainAddress(ctx context.Context) (string, error)
	ListBalances(ctx context.Context) (*Balances, error)
	ListChannels(ctx context.Context) ([]*Channel, error)

	// OpenChannel returns the id of the channel being opened.
	OpenChannel(ctx context.Context, peer *btcec.PublicKey, address string, amountSat uint64) (string, error)

	ReceiveInvoice(ctx context.Context, amountMsat uint64, description string, expiry time.Duration) (*Invoice, error)

	// ReceiveInvoiceViaJitChannel returns an invoice that makes the
	// configured LSP open a channel to us when it is paid. maxFeeMsat
	// caps the opening fee, zero means no cap.
	ReceiveInvoiceViaJitChannel(ctx context.Context, amountMsat uint64, description string, expiry time.Duration, maxFeeMsat uint64) (*Invoice, error)

	// SendPayment starts paying the invoice and returns the payment id.
	// The outcome is delivered as PaymentSuccessful or PaymentFailed event.
	SendPayment(ctx context.Context, invoice *Invoice) (string, error)
	SendPaymentUsingAmount(ctx context.Context, invoice *Invoice, amountMsat uint64) (string, error)

	// NextEvent returns the oldest unacknowledged event without blocking.
	// It keeps returning the same event until EventHandled is called with
	// it. Returns nil if there is no event.
	NextEvent() (Event, error)
	EventHandled(event Event) error
}
