package node

import (
	"encoding/hex"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/zpay32"
	"strings"
	"time"
)

const lightningPrefix = "lightning:"

type Invoice struct {
	PaymentRequest  string
	PaymentHash     string
	AmountMsat      uint64
	HasAmount       bool
	Expiry          time.Duration
	Timestamp       time.Time
	Description     string
	DescriptionHash string
	Payee           string
}

func (i *Invoice) String() string {
	return i.PaymentRequest
}

// ParseInvoice decodes a BOLT11 payment request for the given network.
// A "lightning:" URI prefix is accepted.
func ParseInvoice(s string, network *chaincfg.Params) (*Invoice, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(lightningPrefix) && strings.EqualFold(s[:len(lightningPrefix)], lightningPrefix) {
		s = s[len(lightningPrefix):]
	}

	decoded, err := zpay32.Decode(s, network)
	if err != nil {
		return nil, errors.Errorf("Could not decode invoice: %v", err)
	}

	invoice := &Invoice{
		PaymentRequest: s,
		Expiry:         decoded.Expiry(),
		Timestamp:      decoded.Timestamp,
	}

	if decoded.PaymentHash != nil {
		invoice.PaymentHash = hex.EncodeToString(decoded.PaymentHash[:])
	}

	if decoded.MilliSat != nil {
		invoice.AmountMsat = uint64(*decoded.MilliSat)
		invoice.HasAmount = true
	}

	if decoded.Description != nil {
		invoice.Description = *decoded.Description
	}

	if decoded.DescriptionHash != nil {
		invoice.DescriptionHash = hex.EncodeToString(decoded.DescriptionHash[:])
	}

	if decoded.Destination != nil {
		invoice.Payee = hex.EncodeToString(decoded.Destination.SerializeCompressed())
	}

	return invoice, nil
}

func (i *Invoice) ExpiresAt() time.Time {
	return i.Timestamp.Add(i.Expiry)
}
