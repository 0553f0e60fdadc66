package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-errors/errors"
	"github.com/jimsnab/go-cmdline"
	"github.com/the-lightning-land/lnshell/lnurl"
	"github.com/the-lightning-land/lnshell/node"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
)

type cmdContext struct {
	ctx        context.Context
	controller *Controller
	exit       bool
}

type command struct {
	fn    func(args cmdline.Values) error
	usage string
}

var commands = []command{
	{fnHelp, "help?List the available commands"},
	{fnExit, "exit?Leave the shell and stop the node"},
	{fnAddress, "address?Generate a new on-chain receiving address"},
	{fnBalance, "balance?Show on-chain and lightning balances"},
	{fnSync, "sync?Wait for the on-chain wallet to catch up with the chain"},
	{fnOpen, "open <string-peer> <string-hostport> <string-amount>?Open a channel of <amount> sats to <peer> reachable at <hostport>"},
	{fnSend, "send <string-target> <string-amount>?Pay <amount> sats to a lightning address, lnurl or invoice"},
	{fnChannels, "channels?Show the number of channels"},
	{fnReceive, "receive <string-amount>?Create an invoice over <amount> sats"},
	{fnLspReceive, "lsprecv <string-amount>?Create an invoice over <amount> sats that opens a channel through the LSP"},
}

func (c *Controller) registerCommands() {
	for _, cmd := range commands {
		c.cmdLine.RegisterCommand(cmd.fn, cmd.usage)

		verb := strings.FieldsFunc(cmd.usage, func(r rune) bool {
			return r == ' ' || r == '?'
		})[0]
		c.verbs[verb] = true
	}
}

// parseAmount parses a sat amount and returns it in msat.
func parseAmount(s string) (uint64, error) {
	sats, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("not a number: %v", s)
	}

	if sats > math.MaxUint64/1000 {
		return 0, errors.Errorf("too large: %v", s)
	}

	return sats * 1000, nil
}

func parseSocketAddress(s string) (string, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", err
	}

	if host == "" {
		return "", errors.New("missing host")
	}

	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", errors.Errorf("invalid port %v", port)
	}

	return net.JoinHostPort(host, port), nil
}

func fnHelp(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	m := ctx.controller.cmdLine.Summary()
	named, _ := m["named"].([]any)

	lines := []string{}
	for _, cmd := range named {
		m2, ok := cmd.(map[string]any)
		if !ok {
			continue
		}

		primary, _ := m2["primary"].(map[string]string)
		for usage, help := range primary {
			lines = append(lines, fmt.Sprintf("  %-60s %s", usage, help))
		}
	}

	sort.Strings(lines)

	ctx.controller.printf("Commands:\n%v", strings.Join(lines, "\n"))
	return nil
}

func fnExit(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	ctx.exit = true
	return nil
}

func fnAddress(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	address, err := c.node.NewOnchainAddress(ctx.ctx)
	if err != nil {
		c.printf("Could not create address: %v", err)
		return nil
	}

	c.printf("%v", address)
	return nil
}

func fnBalance(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	balances, err := c.node.ListBalances(ctx.ctx)
	if err != nil {
		c.printf("Could not get balances: %v", err)
		return nil
	}

	c.printf("On-chain: %d sat (spendable %d sat, unconfirmed %d sat)",
		balances.TotalOnchainSat, balances.SpendableOnchainSat, balances.UnconfirmedOnchainSat)
	c.printf("Lightning: %d sat (pending open %d sat)",
		balances.TotalLightningSat, balances.PendingOpenLightningSat)
	return nil
}

func fnSync(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	err := c.node.SyncWallets(ctx.ctx)
	if err != nil {
		c.printf("Could not sync: %v", err)
		return nil
	}

	c.printf("SYNCED!")
	return nil
}

func fnOpen(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	peerBytes, err := hex.DecodeString(args["peer"].(string))
	if err != nil {
		c.printf("Invalid peer id: %v", err)
		return nil
	}

	peer, err := btcec.ParsePubKey(peerBytes)
	if err != nil {
		c.printf("Invalid peer id: %v", err)
		return nil
	}

	address, err := parseSocketAddress(args["hostport"].(string))
	if err != nil {
		c.printf("Invalid address: %v", err)
		return nil
	}

	amountSat, err := strconv.ParseUint(args["amount"].(string), 10, 64)
	if err != nil {
		c.printf("Invalid amount")
		return nil
	}

	channelID, err := c.node.OpenChannel(ctx.ctx, peer, address, amountSat)
	if err != nil {
		c.printf("Could not open channel: %v", err)
		return nil
	}

	c.printf("Channel opening! %v", channelID)
	return nil
}

func fnChannels(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	channels, err := c.node.ListChannels(ctx.ctx)
	if err != nil {
		c.printf("Could not list channels: %v", err)
		return nil
	}

	c.printf("%d", len(channels))

	for _, channel := range channels {
		c.log.Debugf("Channel %v with %v: %d/%d sat, usable %v", channel.ChannelID,
			channel.CounterpartyNodeID, channel.LocalBalanceSat, channel.CapacitySat, channel.IsUsable)
	}

	return nil
}

func fnReceive(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	amountMsat, err := parseAmount(args["amount"].(string))
	if err != nil {
		c.printf("Invalid amount")
		return nil
	}

	invoice, err := c.node.ReceiveInvoice(ctx.ctx, amountMsat, "", invoiceExpiry)
	if err != nil {
		c.printf("Could not create invoice: %v", err)
		return nil
	}

	c.printf("%v", invoice.PaymentRequest)
	return nil
}

func fnLspReceive(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller

	amountMsat, err := parseAmount(args["amount"].(string))
	if err != nil {
		c.printf("Invalid amount")
		return nil
	}

	invoice, err := c.node.ReceiveInvoiceViaJitChannel(ctx.ctx, amountMsat, "", invoiceExpiry, 0)
	if err != nil {
		c.printf("Could not create invoice: %v", err)
		return nil
	}

	c.printf("%v", invoice.PaymentRequest)
	return nil
}

func looksLikeInvoice(target string) bool {
	target = strings.TrimPrefix(strings.ToLower(target), "lightning:")
	return strings.HasPrefix(target, "ln") && !strings.HasPrefix(target, "lnurl")
}

func fnSend(args cmdline.Values) error {
	ctx := args[""].(*cmdContext)
	c := ctx.controller
	target := args["target"].(string)

	amountMsat, err := parseAmount(args["amount"].(string))
	if err != nil {
		c.printf("Invalid amount")
		return nil
	}

	if looksLikeInvoice(target) {
		invoice, err := node.ParseInvoice(target, c.network)
		if err != nil {
			c.printf("Invalid invoice: %v", err)
			return nil
		}

		if invoice.HasAmount && invoice.AmountMsat != amountMsat {
			c.log.Debugf("Invoice is over %v msat, not %v msat", invoice.AmountMsat, amountMsat)
			c.printf("Invalid amount")
			return nil
		}

		c.pay(ctx.ctx, invoice, amountMsat)
		return nil
	}

	response, err := c.lnurl.Resolve(ctx.ctx, target)
	if err != nil {
		c.printf("Could not resolve %v: %v", target, err)
		return nil
	}

	pay, ok := response.(*lnurl.PayResponse)
	if !ok {
		c.log.Debugf("Got %v response for %v", response.Tag(), target)
		c.printf("Error wrong response!")
		return nil
	}

	if !pay.Accepts(amountMsat) {
		c.log.Debugf("%v accepts %v to %v msat", target, pay.MinSendable, pay.MaxSendable)
		c.printf("Invalid amount")
		return nil
	}

	paymentRequest, err := c.lnurl.RequestInvoice(ctx.ctx, pay, amountMsat)
	if err != nil {
		c.printf("Could not get invoice: %v", err)
		return nil
	}

	invoice, err := node.ParseInvoice(paymentRequest, c.network)
	if err != nil {
		c.printf("Invalid invoice: %v", err)
		return nil
	}

	if err := verifyInvoice(invoice, pay, amountMsat); err != nil {
		c.printf("Invalid invoice: %v", err)
		return nil
	}

	if description := pay.Description(); description != "" {
		c.printf("Paying %v for %v", target, description)
	}

	c.pay(ctx.ctx, invoice, amountMsat)
	return nil
}

// verifyInvoice checks an lnurl invoice is for what was asked.
func verifyInvoice(invoice *node.Invoice, pay *lnurl.PayResponse, amountMsat uint64) error {
	if !invoice.HasAmount || invoice.AmountMsat != amountMsat {
		return errors.Errorf("amount %v msat does not match requested %v msat", invoice.AmountMsat, amountMsat)
	}

	if invoice.DescriptionHash != "" {
		hash := sha256.Sum256([]byte(pay.Metadata))
		if invoice.DescriptionHash != hex.EncodeToString(hash[:]) {
			return errors.New("description hash does not match metadata")
		}
	}

	return nil
}

func (c *Controller) pay(ctx context.Context, invoice *node.Invoice, amountMsat uint64) {
	var (
		paymentID string
		err       error
	)

	if invoice.HasAmount {
		paymentID, err = c.node.SendPayment(ctx, invoice)
	} else {
		paymentID, err = c.node.SendPaymentUsingAmount(ctx, invoice, amountMsat)
	}

	if err != nil {
		c.printf("Could not send payment: %v", err)
		return
	}

	c.printf("Payment started! %v", paymentID)
}
