package node

import (
	"encoding/json"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func feeParams(minFee string, proportional uint32, validUntil time.Time) *openingFeeParams {
	return &openingFeeParams{
		MinFeeMsat:           minFee,
		Proportional:         proportional,
		ValidUntil:           validUntil.UTC().Format(time.RFC3339),
		MinLifetime:          1008,
		MaxClientToSelfDelay: 2016,
		MinPaymentSizeMsat:   "1000",
		MaxPaymentSizeMsat:   "100000000",
		Promise:              "promise",
	}
}

func TestOpeningFee(t *testing.T) {
	fee, err := openingFee(feeParams("2000", 1000, time.Now()), 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), fee)

	fee, err = openingFee(feeParams("0", 1000, time.Now()), 1_500_001)
	require.NoError(t, err)
	assert.Equal(t, uint64(1501), fee)

	_, err = openingFee(feeParams("nope", 1000, time.Now()), 1_000_000)
	assert.Error(t, err)
}

func TestSelectFeeParamsPicksCheapest(t *testing.T) {
	now := time.Now()
	expensive := feeParams("50000", 5000, now.Add(time.Hour))
	cheap := feeParams("2000", 1000, now.Add(time.Hour))
	expired := feeParams("0", 0, now.Add(-time.Hour))

	params, fee, err := selectFeeParams([]*openingFeeParams{expensive, expired, cheap}, 10_000_000, 0, now)
	require.NoError(t, err)
	assert.Same(t, cheap, params)
	assert.Equal(t, uint64(10_000), fee)
}

func TestSelectFeeParamsHonorsMaxFee(t *testing.T) {
	now := time.Now()
	menu := []*openingFeeParams{feeParams("2000", 1000, now.Add(time.Hour))}

	_, _, err := selectFeeParams(menu, 10_000_000, 9_999, now)
	assert.ErrorIs(t, err, ErrNoSuitableFeeParams)

	_, _, err = selectFeeParams(menu, 10_000_000, 10_000, now)
	assert.NoError(t, err)
}

func TestSelectFeeParamsHonorsPaymentSize(t *testing.T) {
	now := time.Now()
	menu := []*openingFeeParams{feeParams("0", 1000, now.Add(time.Hour))}

	_, _, err := selectFeeParams(menu, 999, 0, now)
	assert.ErrorIs(t, err, ErrNoSuitableFeeParams)

	_, _, err = selectFeeParams(menu, 100_000_001, 0, now)
	assert.ErrorIs(t, err, ErrNoSuitableFeeParams)
}

func TestSelectFeeParamsRejectsFeeAbovePayment(t *testing.T) {
	now := time.Now()
	menu := []*openingFeeParams{feeParams("2000000", 0, now.Add(time.Hour))}

	_, _, err := selectFeeParams(menu, 1_000_000, 0, now)
	assert.ErrorIs(t, err, ErrNoSuitableFeeParams)
}

func TestParseScid(t *testing.T) {
	scid, err := parseScid("700000x42x1")
	require.NoError(t, err)
	assert.Equal(t, uint64(700000)<<40|uint64(42)<<16|1, scid)

	for _, invalid := range []string{"", "1x2", "1x2x3x4", "ax2x3", "1x2x70000"} {
		_, err := parseScid(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestBuyParamsEchoFeeParams(t *testing.T) {
	params := feeParams("2000", 1000, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))

	payload, err := json.Marshal(&buyParams{OpeningFeeParams: params, PaymentSizeMsat: "42000"})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"opening_fee_params": {
			"min_fee_msat": "2000",
			"proportional": 1000,
			"valid_until": "2030-01-01T00:00:00Z",
			"min_lifetime": 1008,
			"max_client_to_self_delay": 2016,
			"min_payment_size_msat": "1000",
			"max_payment_size_msat": "100000000",
			"promise": "promise"
		},
		"payment_size_msat": "42000"
	}`, string(payload))
}

func TestHandleMessageRoutesResponses(t *testing.T) {
	lsp := &lsps2Client{
		node:      &LndNode{logger: noopLogger{}},
		pubkeyHex: "02aa",
		inflight:  make(map[string]chan *jsonRpcResponse),
	}

	responses := make(chan *jsonRpcResponse, 1)
	lsp.inflight["req-1"] = responses

	// wrong peer and wrong type are dropped
	lsp.handleMessage([]byte{0x02, 0xbb}, lsps0MessageType, []byte(`{"jsonrpc":"2.0","id":"req-1","result":{}}`))
	lsp.handleMessage([]byte{0x02, 0xaa}, 32768, []byte(`{"jsonrpc":"2.0","id":"req-1","result":{}}`))
	assert.Len(t, responses, 0)

	lsp.handleMessage([]byte{0x02, 0xaa}, lsps0MessageType, []byte(`{"jsonrpc":"2.0","id":"req-1","error":{"code":201,"message":"invalid opening fee params"}}`))
	require.Len(t, responses, 1)

	resp := <-responses
	require.NotNil(t, resp.Error)
	assert.Equal(t, 201, resp.Error.Code)
}

func TestOnlyFeeFreeOffersAreBought(t *testing.T) {
	now := time.Now()
	paid := feeParams("2000", 1000, now.Add(time.Hour))
	free := feeParams("0", 0, now.Add(time.Hour))

	_, _, err := selectFeeFreeParams([]*openingFeeParams{paid}, 1_000_000, 0, now)
	assert.ErrorIs(t, err, ErrOpeningFeeUnsupported)
	assert.Contains(t, err.Error(), "2000 msat")

	params, fee, err := selectFeeFreeParams([]*openingFeeParams{paid, free}, 1_000_000, 0, now)
	require.NoError(t, err)
	assert.Same(t, free, params)
	assert.Equal(t, uint64(0), fee)

	_, _, err = selectFeeFreeParams(nil, 1_000_000, 0, now)
	assert.ErrorIs(t, err, ErrNoSuitableFeeParams)
}

func TestChannelAcceptorAllowsZeroConfFromLsp(t *testing.T) {
	lsp := &lsps2Client{
		node:      &LndNode{logger: noopLogger{}},
		pubkeyHex: "02aa",
	}

	resp := lsp.channelAcceptResponse(&lnrpc.ChannelAcceptRequest{
		NodePubkey:    []byte{0x02, 0xaa},
		PendingChanId: []byte{1},
		WantsZeroConf: true,
	})
	assert.True(t, resp.Accept)
	assert.True(t, resp.ZeroConf)
	assert.Equal(t, uint32(0), resp.MinAcceptDepth)
	assert.Equal(t, []byte{1}, resp.PendingChanId)

	resp = lsp.channelAcceptResponse(&lnrpc.ChannelAcceptRequest{
		NodePubkey:    []byte{0x02, 0xbb},
		PendingChanId: []byte{2},
		WantsZeroConf: true,
	})
	assert.True(t, resp.Accept)
	assert.False(t, resp.ZeroConf)

	resp = lsp.channelAcceptResponse(&lnrpc.ChannelAcceptRequest{
		NodePubkey:    []byte{0x02, 0xaa},
		PendingChanId: []byte{3},
	})
	assert.True(t, resp.Accept)
	assert.False(t, resp.ZeroConf)
}
