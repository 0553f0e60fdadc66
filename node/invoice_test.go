package node_test

import (
	"crypto/sha256"
	"encoding/hex"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/lnshell/node"
	"github.com/the-lightning-land/lnshell/node/nodetest"
	"testing"
	"time"
)

func TestParseInvoice(t *testing.T) {
	network := &chaincfg.RegressionNetParams
	encoded := nodetest.MintInvoice(t, network, nodetest.InvoiceOptions{
		AmountMsat:  1_000_000,
		Description: "coffee",
		Expiry:      time.Hour,
	})

	invoice, err := node.ParseInvoice(encoded, network)
	require.NoError(t, err)

	assert.Equal(t, encoded, invoice.PaymentRequest)
	assert.True(t, invoice.HasAmount)
	assert.Equal(t, uint64(1_000_000), invoice.AmountMsat)
	assert.Equal(t, time.Hour, invoice.Expiry)
	assert.Equal(t, "coffee", invoice.Description)
	assert.Len(t, invoice.PaymentHash, 64)
	assert.Len(t, invoice.Payee, 66)
}

func TestParseInvoiceWithUriPrefix(t *testing.T) {
	network := &chaincfg.RegressionNetParams
	encoded := nodetest.MintInvoice(t, network, nodetest.InvoiceOptions{})

	invoice, err := node.ParseInvoice("LIGHTNING:"+encoded, network)
	require.NoError(t, err)
	assert.False(t, invoice.HasAmount)
	assert.Equal(t, encoded, invoice.PaymentRequest)
}

func TestParseInvoiceDescriptionHash(t *testing.T) {
	network := &chaincfg.RegressionNetParams
	hash := sha256.Sum256([]byte(`[["text/plain","hi"]]`))

	invoice := nodetest.Invoice(t, network, nodetest.InvoiceOptions{
		AmountMsat:      5000,
		DescriptionHash: &hash,
	})

	assert.Equal(t, hex.EncodeToString(hash[:]), invoice.DescriptionHash)
}

func TestParseInvoiceWrongNetwork(t *testing.T) {
	encoded := nodetest.MintInvoice(t, &chaincfg.RegressionNetParams, nodetest.InvoiceOptions{AmountMsat: 1000})

	_, err := node.ParseInvoice(encoded, &chaincfg.MainNetParams)
	assert.Error(t, err)

	_, err = node.ParseInvoice("lnbc1garbage", &chaincfg.MainNetParams)
	assert.Error(t, err)
}
