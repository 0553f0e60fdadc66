package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnwire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// lsps0MessageType is the custom message type all LSPS protocols share.
const lsps0MessageType = 37913

const defaultLspRequestTimeout = 30 * time.Second

var ErrNoSuitableFeeParams = errors.New("no suitable opening fee parameters offered by the LSP")

// ErrOpeningFeeUnsupported is returned when the LSP only offers channels
// with an opening fee. The LSP takes the fee from the forwarded HTLC and
// lnd fails any final HTLC below the amount in its onion.
var ErrOpeningFeeUnsupported = errors.New("lnd cannot settle JIT channel payments reduced by an opening fee")

type LspConfig struct {
	Pubkey  *btcec.PublicKey
	Address string
	Token   string
}

type jsonRpcRequest struct {
	JsonRpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Id      string      `json:"id"`
}

type jsonRpcResponse struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRpcError   `json:"error,omitempty"`
}

type jsonRpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonRpcError) Error() string {
	return "lsp error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// openingFeeParams are passed back to the LSP untouched, the promise
// covers all fields.
type openingFeeParams struct {
	MinFeeMsat           string `json:"min_fee_msat"`
	Proportional         uint32 `json:"proportional"`
	ValidUntil           string `json:"valid_until"`
	MinLifetime          uint32 `json:"min_lifetime"`
	MaxClientToSelfDelay uint32 `json:"max_client_to_self_delay"`
	MinPaymentSizeMsat   string `json:"min_payment_size_msat"`
	MaxPaymentSizeMsat   string `json:"max_payment_size_msat"`
	Promise              string `json:"promise"`
}

type getInfoParams struct {
	Token string `json:"token,omitempty"`
}

type getInfoResult struct {
	OpeningFeeParamsMenu []*openingFeeParams `json:"opening_fee_params_menu"`
}

type buyParams struct {
	OpeningFeeParams *openingFeeParams `json:"opening_fee_params"`
	PaymentSizeMsat  string            `json:"payment_size_msat,omitempty"`
}

type buyResult struct {
	JitChannelScid     string `json:"jit_channel_scid"`
	LspCltvExpiryDelta uint32 `json:"lsp_cltv_expiry_delta"`
	ClientTrustsLsp    bool   `json:"client_trusts_lsp"`
}

type jitChannel struct {
	Scid            uint64
	CltvExpiryDelta uint32
	LspNodeID       string
	OpeningFeeMsat  uint64
}

type lsps2Client struct {
	node      *LndNode
	pubkey    []byte
	pubkeyHex string
	address   string
	token     string
	timeout   time.Duration
	mu        sync.Mutex
	inflight  map[string]chan *jsonRpcResponse
	now       func() time.Time
}

func newLsps2Client(node *LndNode, config *LspConfig) *lsps2Client {
	pubkey := config.Pubkey.SerializeCompressed()

	return &lsps2Client{
		node:      node,
		pubkey:    pubkey,
		pubkeyHex: hex.EncodeToString(pubkey),
		address:   config.Address,
		token:     config.Token,
		timeout:   defaultLspRequestTimeout,
		inflight:  make(map[string]chan *jsonRpcResponse),
		now:       time.Now,
	}
}

func (c *lsps2Client) buyJitChannel(ctx context.Context, amountMsat uint64, maxFeeMsat uint64) (*jitChannel, error) {
	peer, err := btcec.ParsePubKey(c.pubkey)
	if err != nil {
		return nil, errors.Errorf("Could not parse LSP pubkey: %v", err)
	}

	if err := c.node.connectPeer(ctx, peer, c.address); err != nil {
		return nil, err
	}

	info := getInfoResult{}
	if err := c.call(ctx, "lsps2.get_info", &getInfoParams{Token: c.token}, &info); err != nil {
		return nil, err
	}

	params, fee, err := selectFeeFreeParams(info.OpeningFeeParamsMenu, amountMsat, maxFeeMsat, c.now())
	if err != nil {
		return nil, err
	}

	bought := buyResult{}
	err = c.call(ctx, "lsps2.buy", &buyParams{
		OpeningFeeParams: params,
		PaymentSizeMsat:  strconv.FormatUint(amountMsat, 10),
	}, &bought)
	if err != nil {
		return nil, err
	}

	scid, err := parseScid(bought.JitChannelScid)
	if err != nil {
		return nil, err
	}

	return &jitChannel{
		Scid:            scid,
		CltvExpiryDelta: bought.LspCltvExpiryDelta,
		LspNodeID:       c.pubkeyHex,
		OpeningFeeMsat:  fee,
	}, nil
}

func (c *lsps2Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := uuid.New().String()

	payload, err := json.Marshal(&jsonRpcRequest{
		JsonRpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      id,
	})
	if err != nil {
		return errors.Errorf("Could not encode %v request: %v", method, err)
	}

	responses := make(chan *jsonRpcResponse, 1)

	c.mu.Lock()
	c.inflight[id] = responses
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	_, err = c.node.client.SendCustomMessage(c.node.rpcCtx(ctx), &lnrpc.SendCustomMessageRequest{
		Peer: c.pubkey,
		Type: lsps0MessageType,
		Data: payload,
	})
	if err != nil {
		return errors.Errorf("Could not send %v request: %v", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-responses:
		if resp.Error != nil {
			return errors.Errorf("%v failed: %v", method, resp.Error)
		}

		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errors.Errorf("Could not decode %v response: %v", method, err)
		}

		return nil
	case <-timer.C:
		return errors.Errorf("LSP did not answer %v in time", method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *lsps2Client) subscribeMessages(ctx context.Context) error {
	stream, err := c.node.client.SubscribeCustomMessages(c.node.rpcCtx(ctx), &lnrpc.SubscribeCustomMessagesRequest{})
	if err != nil {
		return errors.Errorf("Could not subscribe to custom messages: %v", err)
	}

	for {
		msg, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		c.handleMessage(msg.Peer, msg.Type, msg.Data)
	}
}

func (c *lsps2Client) handleMessage(peer []byte, msgType uint32, data []byte) {
	if msgType != lsps0MessageType || hex.EncodeToString(peer) != c.pubkeyHex {
		return
	}

	resp := &jsonRpcResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		c.node.logger.Warnf("Could not decode message from LSP: %v", err)
		return
	}

	c.mu.Lock()
	responses, ok := c.inflight[resp.Id]
	c.mu.Unlock()

	if !ok {
		c.node.logger.Debugf("Ignoring LSP message with unknown id %v", resp.Id)
		return
	}

	select {
	case responses <- resp:
	default:
	}
}

// openingFee returns max(min_fee_msat, ceil(payment * proportional / 1e6)).
func openingFee(params *openingFeeParams, paymentMsat uint64) (uint64, error) {
	minFee, err := strconv.ParseUint(params.MinFeeMsat, 10, 64)
	if err != nil {
		return 0, errors.Errorf("Invalid min_fee_msat %q: %v", params.MinFeeMsat, err)
	}

	proportional := uint64(params.Proportional)
	if proportional != 0 && paymentMsat > (math.MaxUint64-999_999)/proportional {
		return 0, errors.New("opening fee overflows")
	}

	fee := (paymentMsat*proportional + 999_999) / 1_000_000
	if fee < minFee {
		fee = minFee
	}

	return fee, nil
}

func selectFeeParams(menu []*openingFeeParams, paymentMsat uint64, maxFeeMsat uint64, now time.Time) (*openingFeeParams, uint64, error) {
	var (
		best    *openingFeeParams
		bestFee uint64
	)

	for _, params := range menu {
		validUntil, err := time.Parse(time.RFC3339, params.ValidUntil)
		if err != nil || !validUntil.After(now) {
			continue
		}

		minSize, err := strconv.ParseUint(params.MinPaymentSizeMsat, 10, 64)
		if err != nil {
			continue
		}

		maxSize, err := strconv.ParseUint(params.MaxPaymentSizeMsat, 10, 64)
		if err != nil {
			continue
		}

		if paymentMsat < minSize || paymentMsat > maxSize {
			continue
		}

		fee, err := openingFee(params, paymentMsat)
		if err != nil || fee >= paymentMsat {
			continue
		}

		if maxFeeMsat != 0 && fee > maxFeeMsat {
			continue
		}

		if best == nil || fee < bestFee {
			best = params
			bestFee = fee
		}
	}

	if best == nil {
		return nil, 0, ErrNoSuitableFeeParams
	}

	return best, bestFee, nil
}

// selectFeeFreeParams only settles for offers without an opening fee, the
// only ones a payment through lnd can complete.
func selectFeeFreeParams(menu []*openingFeeParams, paymentMsat uint64, maxFeeMsat uint64, now time.Time) (*openingFeeParams, uint64, error) {
	params, fee, err := selectFeeParams(menu, paymentMsat, maxFeeMsat, now)
	if err != nil {
		return nil, 0, err
	}

	if fee > 0 {
		return nil, 0, errors.Errorf("%w, the LSP asks for %v msat", ErrOpeningFeeUnsupported, fee)
	}

	return params, fee, nil
}

// acceptChannels lets the LSP open its JIT channel without confirmations.
// Channels from other peers are left to lnd's own policy. lnd must run
// with --protocol.option-scid-alias and --protocol.zero-conf.
func (c *lsps2Client) acceptChannels(ctx context.Context) error {
	stream, err := c.node.client.ChannelAcceptor(c.node.rpcCtx(ctx))
	if err != nil {
		return errors.Errorf("Could not register channel acceptor: %v", err)
	}

	for {
		req, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		resp := c.channelAcceptResponse(req)
		if resp.ZeroConf {
			c.node.logger.Infof("Accepting zero-conf channel %x from LSP", req.PendingChanId)
		}

		if err := stream.Send(resp); err != nil {
			return errors.Errorf("Could not answer channel request: %v", err)
		}
	}
}

func (c *lsps2Client) channelAcceptResponse(req *lnrpc.ChannelAcceptRequest) *lnrpc.ChannelAcceptResponse {
	resp := &lnrpc.ChannelAcceptResponse{
		Accept:        true,
		PendingChanId: req.PendingChanId,
	}

	if req.WantsZeroConf && hex.EncodeToString(req.NodePubkey) == c.pubkeyHex {
		resp.ZeroConf = true
		resp.MinAcceptDepth = 0
	}

	return resp
}

// parseScid parses the "<block>x<tx>x<output>" notation.
func parseScid(s string) (uint64, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return 0, errors.Errorf("Invalid short channel id %q", s)
	}

	block, err := strconv.ParseUint(parts[0], 10, 24)
	if err != nil {
		return 0, errors.Errorf("Invalid short channel id %q: %v", s, err)
	}

	tx, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return 0, errors.Errorf("Invalid short channel id %q: %v", s, err)
	}

	output, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return 0, errors.Errorf("Invalid short channel id %q: %v", s, err)
	}

	return lnwire.ShortChannelID{
		BlockHeight: uint32(block),
		TxIndex:     uint32(tx),
		TxPosition:  uint16(output),
	}.ToUint64(), nil
}
