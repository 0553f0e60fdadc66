package nodetest

import (
	"crypto/rand"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/the-lightning-land/lnshell/node"
	"testing"
	"time"
)

// InvoiceOptions describe a payment request to mint. A zero AmountMsat
// creates an invoice without amount.
type InvoiceOptions struct {
	AmountMsat      uint64
	Description     string
	DescriptionHash *[32]byte
	Expiry          time.Duration
}

// MintInvoice signs a real BOLT11 invoice with a throwaway key.
func MintInvoice(t testing.TB, network *chaincfg.Params, opts InvoiceOptions) string {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("Could not create key: %v", err)
	}

	var hash [32]byte
	if _, err := rand.Read(hash[:]); err != nil {
		t.Fatalf("Could not create payment hash: %v", err)
	}

	options := []func(*zpay32.Invoice){}

	if opts.AmountMsat != 0 {
		options = append(options, zpay32.Amount(lnwire.MilliSatoshi(opts.AmountMsat)))
	}

	if opts.DescriptionHash != nil {
		options = append(options, zpay32.DescriptionHash(*opts.DescriptionHash))
	} else {
		options = append(options, zpay32.Description(opts.Description))
	}

	if opts.Expiry != 0 {
		options = append(options, zpay32.Expiry(opts.Expiry))
	}

	invoice, err := zpay32.NewInvoice(network, hash, time.Now(), options...)
	if err != nil {
		t.Fatalf("Could not create invoice: %v", err)
	}

	encoded, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(key, chainhash.HashB(msg), true)
		},
	})
	if err != nil {
		t.Fatalf("Could not encode invoice: %v", err)
	}

	return encoded
}

// Invoice mints and parses an invoice in one go.
func Invoice(t testing.TB, network *chaincfg.Params, opts InvoiceOptions) *node.Invoice {
	t.Helper()

	invoice, err := node.ParseInvoice(MintInvoice(t, network, opts), network)
	if err != nil {
		t.Fatalf("Could not parse minted invoice: %v", err)
	}

	return invoice
}
