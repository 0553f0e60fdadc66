package controller

import (
	"context"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/the-lightning-land/lnshell/lnurl"
	"github.com/the-lightning-land/lnshell/node"
	"io"
	"net"
	"time"
)

const (
	defaultEventPollInterval = 100 * time.Millisecond
	defaultAckRetryTimeout   = 30 * time.Second
	invoiceExpiry            = time.Hour
)

// Console is where commands come from and reports go to.
type Console interface {
	io.Writer
	ReadLine() (string, error)
}

type LnurlResolver interface {
	Resolve(ctx context.Context, target string) (lnurl.Response, error)
	RequestInvoice(ctx context.Context, pay *lnurl.PayResponse, amountMsat uint64) (string, error)
}

type Api interface {
	SetController(c *Controller)
	Serve(l net.Listener) error
}

type Config struct {
	Node              node.Node
	Lnurl             LnurlResolver
	Console           Console
	Network           *chaincfg.Params
	EventPollInterval time.Duration
	AckRetryTimeout   time.Duration
	Api               Api
	ApiListen         string
	Logger            Logger
}
