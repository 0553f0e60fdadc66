package node

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/hex"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	beginCertificateBlock = []byte("-----BEGIN CERTIFICATE-----\n")
	endCertificateBlock   = []byte("\n-----END CERTIFICATE-----")
)

const (
	defaultSyncTimeout     = 10 * time.Minute
	defaultPaymentTimeout  = 60 * time.Second
	defaultFeeLimitPpm     = 10_000
	defaultMinFeeLimitMsat = 10_000
)

var errNotSynced = errors.New("node is not synced yet")

type LndNodeConfig struct {
	Uri           string
	CertBytes     []byte
	MacaroonBytes []byte
	Network       *chaincfg.Params
	Store         Store
	Lsp           *LspConfig
	SyncTimeout   time.Duration
	Logger        Logger
}

type LndNode struct {
	uri              string
	tlsCredentials   credentials.TransportCredentials
	macaroonMetadata metadata.MD
	network          *chaincfg.Params
	syncTimeout      time.Duration
	conn             *grpc.ClientConn
	client           lnrpc.LightningClient
	router           routerrpc.RouterClient
	store            Store
	queue            *EventQueue
	lsp              *lsps2Client
	logger           Logger

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Node = (*LndNode)(nil)

func NewLndNode(config *LndNodeConfig) (*LndNode, error) {
	if config.Store == nil {
		return nil, errors.New("an event store is required")
	}

	cert := x509.NewCertPool()
	fullCertBytes := config.CertBytes
	if !bytes.Contains(fullCertBytes, []byte("BEGIN CERTIFICATE")) {
		fullCertBytes = append(append([]byte{}, beginCertificateBlock...), config.CertBytes...)
		fullCertBytes = append(fullCertBytes, endCertificateBlock...)
	}

	if ok := cert.AppendCertsFromPEM(fullCertBytes); !ok {
		return nil, errors.New("could not parse tls cert")
	}

	tlsCredentials := credentials.NewClientTLSFromCert(cert, "")

	hexMacaroon := hex.EncodeToString(config.MacaroonBytes)
	macaroonMetadata := metadata.Pairs("macaroon", hexMacaroon)

	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	network := config.Network
	if network == nil {
		network = &chaincfg.MainNetParams
	}

	syncTimeout := config.SyncTimeout
	if syncTimeout == 0 {
		syncTimeout = defaultSyncTimeout
	}

	r := &LndNode{
		uri:              config.Uri,
		tlsCredentials:   tlsCredentials,
		macaroonMetadata: macaroonMetadata,
		network:          network,
		syncTimeout:      syncTimeout,
		store:            config.Store,
		queue:            NewEventQueue(config.Store, logger),
		logger:           logger,
	}

	if config.Lsp != nil {
		r.lsp = newLsps2Client(r, config.Lsp)
	}

	return r, nil
}

func (r *LndNode) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("node already started")
	}

	var err error
	r.conn, err = grpc.Dial(r.uri, grpc.WithTransportCredentials(r.tlsCredentials))
	if err != nil {
		return errors.Errorf("Could not connect to lightning node: %v", err)
	}

	r.client = lnrpc.NewLightningClient(r.conn)
	r.router = routerrpc.NewRouterClient(r.conn)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.started = true

	r.goPump("invoice", r.subscribeInvoices)
	r.goPump("channel", r.subscribeChannelEvents)

	if r.lsp != nil {
		r.goPump("custom message", r.lsp.subscribeMessages)
		r.goPump("channel acceptor", r.lsp.acceptChannels)
	}

	r.resumePayments()

	return nil
}

func (r *LndNode) Stop() error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()

	err := r.conn.Close()
	if err != nil {
		return errors.Errorf("Could not close connection: %v", err)
	}

	return nil
}

func (r *LndNode) rpcCtx(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, r.macaroonMetadata)
}

// spawn runs fn in the background until Stop. It returns false once the
// node is stopping.
func (r *LndNode) spawn(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()

	return true
}

// goPump keeps a subscription running, reconnecting with backoff whenever
// the stream breaks. Must be called with r.mu held.
func (r *LndNode) goPump(name string, subscribe func(ctx context.Context) error) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0

		op := func() error {
			err := subscribe(r.ctx)
			if r.ctx.Err() != nil {
				return backoff.Permanent(r.ctx.Err())
			}
			if err == nil {
				err = errors.Errorf("%v stream closed", name)
			}
			return err
		}

		notify := func(err error, wait time.Duration) {
			r.logger.Warnf("Lost %v subscription, retrying in %v: %v", name, wait, err)
		}

		_ = backoff.RetryNotify(op, backoff.WithContext(b, r.ctx), notify)

		r.logger.Debugf("Stopped %v subscription", name)
	}()
}

func (r *LndNode) Info(ctx context.Context) (*Info, error) {
	info, err := r.client.GetInfo(r.rpcCtx(ctx), &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, errors.Errorf("Could not get node info: %v", err)
	}

	network := ""
	if len(info.Chains) > 0 {
		network = info.Chains[0].Network
	}

	pendingEvents, err := r.store.CountEvents()
	if err != nil {
		r.logger.Errorf("Could not count pending events: %v", err)
	}

	return &Info{
		Pubkey:             info.IdentityPubkey,
		Alias:              info.Alias,
		Network:            network,
		BlockHeight:        info.BlockHeight,
		SyncedToChain:      info.SyncedToChain,
		SyncedToGraph:      info.SyncedToGraph,
		NumActiveChannels:  info.NumActiveChannels,
		NumPendingChannels: info.NumPendingChannels,
		PendingEvents:      pendingEvents,
	}, nil
}

// SyncWallets waits for lnd's wallet to catch up with the chain backend,
// lnd syncs on its own and cannot be told to.
func (r *LndNode) SyncWallets(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.syncTimeout)
	defer cancel()

	op := func() error {
		info, err := r.Info(ctx)
		if err != nil {
			return err
		}

		if !info.SyncedToChain {
			r.logger.Debugf("Waiting for chain sync at height %v", info.BlockHeight)
			return errNotSynced
		}

		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return errors.Errorf("Could not sync wallet: %v", err)
	}

	return nil
}

func (r *LndNode) NewOnchainAddress(ctx context.Context) (string, error) {
	resp, err := r.client.NewAddress(r.rpcCtx(ctx), &lnrpc.NewAddressRequest{
		Type: lnrpc.AddressType_WITNESS_PUBKEY_HASH,
	})
	if err != nil {
		return "", errors.Errorf("Could not create address: %v", err)
	}

	return resp.Address, nil
}

func (r *LndNode) ListBalances(ctx context.Context) (*Balances, error) {
	wallet, err := r.client.WalletBalance(r.rpcCtx(ctx), &lnrpc.WalletBalanceRequest{})
	if err != nil {
		return nil, errors.Errorf("Could not get wallet balance: %v", err)
	}

	channels, err := r.client.ChannelBalance(r.rpcCtx(ctx), &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		return nil, errors.Errorf("Could not get channel balance: %v", err)
	}

	return &Balances{
		TotalOnchainSat:         uint64(wallet.TotalBalance),
		SpendableOnchainSat:     uint64(wallet.ConfirmedBalance),
		UnconfirmedOnchainSat:   uint64(wallet.UnconfirmedBalance),
		TotalLightningSat:       channels.GetLocalBalance().GetSat(),
		PendingOpenLightningSat: channels.GetPendingOpenLocalBalance().GetSat(),
	}, nil
}

func (r *LndNode) ListChannels(ctx context.Context) ([]*Channel, error) {
	resp, err := r.client.ListChannels(r.rpcCtx(ctx), &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, errors.Errorf("Could not list channels: %v", err)
	}

	channels := make([]*Channel, 0, len(resp.Channels))

	for _, c := range resp.Channels {
		channels = append(channels, &Channel{
			ChannelID:          c.ChannelPoint,
			ShortChannelID:     c.ChanId,
			CounterpartyNodeID: c.RemotePubkey,
			CapacitySat:        uint64(c.Capacity),
			LocalBalanceSat:    uint64(c.LocalBalance),
			IsUsable:           c.Active,
			IsPrivate:          c.Private,
		})
	}

	return channels, nil
}

func (r *LndNode) connectPeer(ctx context.Context, peer *btcec.PublicKey, address string) error {
	_, err := r.client.ConnectPeer(r.rpcCtx(ctx), &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{
			Pubkey: hex.EncodeToString(peer.SerializeCompressed()),
			Host:   address,
		},
	})
	if err != nil && !strings.Contains(err.Error(), "already connected") {
		return errors.Errorf("Could not connect to peer %x@%v: %v", peer.SerializeCompressed(), address, err)
	}

	return nil
}

func (r *LndNode) OpenChannel(ctx context.Context, peer *btcec.PublicKey, address string, amountSat uint64) (string, error) {
	if amountSat == 0 || amountSat > math.MaxInt64 {
		return "", ErrInvalidAmount
	}

	if err := r.connectPeer(ctx, peer, address); err != nil {
		return "", err
	}

	point, err := r.client.OpenChannelSync(r.rpcCtx(ctx), &lnrpc.OpenChannelRequest{
		NodePubkey:         peer.SerializeCompressed(),
		LocalFundingAmount: int64(amountSat),
	})
	if err != nil {
		return "", errors.Errorf("Could not open channel: %v", err)
	}

	outPoint, err := channelPointToOutPoint(point)
	if err != nil {
		return "", err
	}

	return outPoint.String(), nil
}

func channelPointToOutPoint(point *lnrpc.ChannelPoint) (OutPoint, error) {
	if txid := point.GetFundingTxidStr(); txid != "" {
		return OutPoint{Txid: txid, Vout: point.OutputIndex}, nil
	}

	return txidBytesToOutPoint(point.GetFundingTxidBytes(), point.OutputIndex)
}

func txidBytesToOutPoint(txid []byte, index uint32) (OutPoint, error) {
	hash, err := chainhash.NewHash(txid)
	if err != nil {
		return OutPoint{}, errors.Errorf("Could not parse funding txid: %v", err)
	}

	return OutPoint{Txid: hash.String(), Vout: index}, nil
}

func (r *LndNode) ReceiveInvoice(ctx context.Context, amountMsat uint64, description string, expiry time.Duration) (*Invoice, error) {
	return r.addInvoice(ctx, &lnrpc.Invoice{
		Memo:      description,
		ValueMsat: int64(amountMsat),
		Expiry:    int64(expiry / time.Second),
	}, amountMsat)
}

func (r *LndNode) addInvoice(ctx context.Context, invoice *lnrpc.Invoice, amountMsat uint64) (*Invoice, error) {
	if amountMsat > math.MaxInt64 {
		return nil, ErrInvalidAmount
	}

	resp, err := r.client.AddInvoice(r.rpcCtx(ctx), invoice)
	if err != nil {
		return nil, errors.Errorf("Could not add invoice: %v", err)
	}

	return ParseInvoice(resp.PaymentRequest, r.network)
}

func (r *LndNode) ReceiveInvoiceViaJitChannel(ctx context.Context, amountMsat uint64, description string, expiry time.Duration, maxFeeMsat uint64) (*Invoice, error) {
	if r.lsp == nil {
		return nil, ErrNoLiquiditySource
	}

	channel, err := r.lsp.buyJitChannel(ctx, amountMsat, maxFeeMsat)
	if err != nil {
		return nil, err
	}

	r.logger.Infof("LSP will open channel %v for an opening fee of %v msat", channel.Scid, channel.OpeningFeeMsat)

	return r.addInvoice(ctx, &lnrpc.Invoice{
		Memo:      description,
		ValueMsat: int64(amountMsat),
		Expiry:    int64(expiry / time.Second),
		Private:   true,
		RouteHints: []*lnrpc.RouteHint{{
			HopHints: []*lnrpc.HopHint{{
				NodeId:          channel.LspNodeID,
				ChanId:          channel.Scid,
				CltvExpiryDelta: channel.CltvExpiryDelta,
			}},
		}},
	}, amountMsat)
}

func (r *LndNode) SendPayment(ctx context.Context, invoice *Invoice) (string, error) {
	if !invoice.HasAmount {
		return "", errors.Errorf("Invoice has no amount, one must be given: %v", ErrInvalidAmount)
	}

	return r.sendPayment(ctx, invoice, 0, invoice.AmountMsat)
}

func (r *LndNode) SendPaymentUsingAmount(ctx context.Context, invoice *Invoice, amountMsat uint64) (string, error) {
	if invoice.HasAmount {
		return "", errors.Errorf("Invoice already has an amount: %v", ErrInvalidAmount)
	}

	if amountMsat == 0 || amountMsat > math.MaxInt64 {
		return "", ErrInvalidAmount
	}

	return r.sendPayment(ctx, invoice, amountMsat, amountMsat)
}

func feeLimitMsat(amountMsat uint64) int64 {
	limit := amountMsat / (1_000_000 / defaultFeeLimitPpm)
	if limit < defaultMinFeeLimitMsat {
		limit = defaultMinFeeLimitMsat
	}
	return int64(limit)
}

type paymentStream interface {
	Recv() (*lnrpc.Payment, error)
}

// sendPayment returns once lnd accepted the payment. The outcome is
// followed on the node's lifetime and queued as event.
func (r *LndNode) sendPayment(ctx context.Context, invoice *Invoice, amountMsat uint64, totalMsat uint64) (string, error) {
	r.mu.Lock()
	lifetime := r.ctx
	r.mu.Unlock()

	if lifetime == nil || lifetime.Err() != nil {
		return "", errors.New("node is not running")
	}

	stream, err := r.router.SendPaymentV2(r.rpcCtx(lifetime), &routerrpc.SendPaymentRequest{
		PaymentRequest: invoice.PaymentRequest,
		AmtMsat:        int64(amountMsat),
		FeeLimitMsat:   feeLimitMsat(totalMsat),
		TimeoutSeconds: int32(defaultPaymentTimeout / time.Second),
	})
	if err != nil {
		return "", errors.Errorf("Could not send payment: %v", err)
	}

	if err := r.store.AddPayment(invoice.PaymentHash); err != nil {
		r.logger.Errorf("Payment %v will not be followed after restart: %v", invoice.PaymentHash, err)
	}

	first := make(chan error, 1)

	started := r.spawn(func() {
		payment, err := stream.Recv()
		if err != nil {
			r.forgetPayment(invoice.PaymentHash)
			first <- err
			return
		}
		close(first)

		if r.handlePaymentUpdate(payment) {
			return
		}

		r.followPayment(invoice.PaymentHash, stream)
	})
	if !started {
		return "", errors.New("node is stopping")
	}

	select {
	case err, ok := <-first:
		if ok {
			return "", errors.Errorf("Could not send payment: %v", err)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return invoice.PaymentHash, nil
}

// followPayment reads payment updates until a final state, resubscribing
// with TrackPaymentV2 if the stream breaks.
func (r *LndNode) followPayment(paymentHash string, stream paymentStream) {
	hash, err := hex.DecodeString(paymentHash)
	if err != nil {
		r.logger.Errorf("Could not track payment %v: %v", paymentHash, err)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	op := func() error {
		if stream == nil {
			s, err := r.router.TrackPaymentV2(r.rpcCtx(r.ctx), &routerrpc.TrackPaymentRequest{
				PaymentHash:       hash,
				NoInflightUpdates: true,
			})
			if err != nil {
				return err
			}
			stream = s
		}

		for {
			payment, err := stream.Recv()
			if err != nil {
				stream = nil
				if r.ctx.Err() != nil {
					return backoff.Permanent(r.ctx.Err())
				}
				if status.Code(err) == codes.NotFound {
					r.logger.Warnf("Payment %v is unknown to lnd", paymentHash)
					r.forgetPayment(paymentHash)
					return backoff.Permanent(err)
				}
				return err
			}

			b.Reset()

			if r.handlePaymentUpdate(payment) {
				return nil
			}
		}
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warnf("Lost track of payment %v, retrying in %v: %v", paymentHash, wait, err)
	}

	_ = backoff.RetryNotify(op, backoff.WithContext(b, r.ctx), notify)
}

// handlePaymentUpdate queues an event for final payment states and
// reports whether the state was final.
func (r *LndNode) handlePaymentUpdate(payment *lnrpc.Payment) bool {
	var event Event

	switch payment.Status {
	case lnrpc.Payment_SUCCEEDED:
		event = &PaymentSuccessful{
			PaymentID:       payment.PaymentHash,
			PaymentHash:     payment.PaymentHash,
			PaymentPreimage: payment.PaymentPreimage,
			FeePaidMsat:     uint64(payment.FeeMsat),
		}
	case lnrpc.Payment_FAILED:
		event = &PaymentFailed{
			PaymentID:   payment.PaymentHash,
			PaymentHash: payment.PaymentHash,
			Reason:      payment.FailureReason.String(),
		}
	default:
		r.logger.Debugf("Payment %v is %v", payment.PaymentHash, payment.Status)
		return false
	}

	r.pushEvent(event)
	r.forgetPayment(payment.PaymentHash)

	return true
}

func (r *LndNode) forgetPayment(paymentHash string) {
	if err := r.store.RemovePayment(paymentHash); err != nil {
		r.logger.Errorf("Could not forget payment %v: %v", paymentHash, err)
	}
}

// resumePayments follows the payments that were in flight when the node
// was last stopped, their outcome is queued like any other. Must be called
// with r.mu held.
func (r *LndNode) resumePayments() {
	hashes, err := r.store.ListPayments()
	if err != nil {
		r.logger.Errorf("Could not list payments in flight: %v", err)
		return
	}

	for _, hash := range hashes {
		hash := hash

		r.logger.Infof("Resuming payment %v", hash)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.followPayment(hash, nil)
		}()
	}
}

func (r *LndNode) pushEvent(event Event) {
	if err := r.queue.Push(event); err != nil {
		r.logger.Errorf("Could not queue %v event: %v", event.EventType(), err)
	}
}

func (r *LndNode) subscribeInvoices(ctx context.Context) error {
	cursor, err := r.store.GetInvoiceCursor()
	if err != nil {
		return err
	}

	stream, err := r.client.SubscribeInvoices(r.rpcCtx(ctx), &lnrpc.InvoiceSubscription{
		AddIndex:    cursor.AddIndex,
		SettleIndex: cursor.SettleIndex,
	})
	if err != nil {
		return errors.Errorf("Could not subscribe to invoices: %v", err)
	}

	for {
		invoice, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		hash := hex.EncodeToString(invoice.RHash)

		switch invoice.State {
		case lnrpc.Invoice_ACCEPTED:
			r.pushEvent(&PaymentClaimable{
				PaymentID:           hash,
				PaymentHash:         hash,
				ClaimableAmountMsat: uint64(invoice.AmtPaidMsat),
			})
		case lnrpc.Invoice_SETTLED:
			r.pushEvent(&PaymentReceived{
				PaymentID:   hash,
				PaymentHash: hash,
				AmountMsat:  uint64(invoice.AmtPaidMsat),
			})
		}

		// the cursor only moves after the event is stored
		if invoice.AddIndex > cursor.AddIndex || invoice.SettleIndex > cursor.SettleIndex {
			if invoice.AddIndex > cursor.AddIndex {
				cursor.AddIndex = invoice.AddIndex
			}
			if invoice.SettleIndex > cursor.SettleIndex {
				cursor.SettleIndex = invoice.SettleIndex
			}

			if err := r.store.SetInvoiceCursor(cursor); err != nil {
				r.logger.Errorf("Could not store invoice cursor: %v", err)
			}
		}
	}
}

func (r *LndNode) subscribeChannelEvents(ctx context.Context) error {
	stream, err := r.client.SubscribeChannelEvents(r.rpcCtx(ctx), &lnrpc.ChannelEventSubscription{})
	if err != nil {
		return errors.Errorf("Could not subscribe to channel events: %v", err)
	}

	for {
		update, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		r.handleChannelUpdate(update)
	}
}

func (r *LndNode) handleChannelUpdate(update *lnrpc.ChannelEventUpdate) {
	switch update.Type {
	case lnrpc.ChannelEventUpdate_PENDING_OPEN_CHANNEL:
		pending := update.GetPendingOpenChannel()
		outPoint, err := txidBytesToOutPoint(pending.GetTxid(), pending.GetOutputIndex())
		if err != nil {
			r.logger.Errorf("Could not handle pending channel: %v", err)
			return
		}

		r.pushEvent(&ChannelPending{
			ChannelID:  outPoint.String(),
			FundingTxo: outPoint,
		})
	case lnrpc.ChannelEventUpdate_OPEN_CHANNEL:
		channel := update.GetOpenChannel()
		r.pushEvent(&ChannelReady{
			ChannelID:          channel.GetChannelPoint(),
			ShortChannelID:     channel.GetChanId(),
			CounterpartyNodeID: channel.GetRemotePubkey(),
		})
	case lnrpc.ChannelEventUpdate_CLOSED_CHANNEL:
		closed := update.GetClosedChannel()
		r.pushEvent(&ChannelClosed{
			ChannelID:          closed.GetChannelPoint(),
			CounterpartyNodeID: closed.GetRemotePubkey(),
			Reason:             closed.GetCloseType().String(),
		})
	default:
		r.logger.Debugf("Ignoring channel event %v", update.Type)
	}
}

func (r *LndNode) NextEvent() (Event, error) {
	return r.queue.Next()
}

func (r *LndNode) EventHandled(event Event) error {
	return r.queue.Handled(event)
}
