package controller

import (
	"context"
	"fmt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/go-errors/errors"
	"github.com/jimsnab/go-cmdline"
	"github.com/the-lightning-land/lnshell/node"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Controller drives a node from operator commands and reports the node's
// events. Commands and events are handled on separate goroutines that
// only share the node.
type Controller struct {
	node              node.Node
	lnurl             LnurlResolver
	console           Console
	network           *chaincfg.Params
	pollInterval      time.Duration
	ackRetryTimeout   time.Duration
	cmdLine           *cmdline.CommandLine
	verbs             map[string]bool
	done              chan struct{}
	shutdownOnce      sync.Once
	ctx               context.Context
	cancel            context.CancelFunc
	eventClients      map[uint32]*EventClient
	eventClientMtx    sync.Mutex
	nextEventClientID uint32
	api               Api
	apiListen         string
	apiListeners      []net.Listener
	log               Logger
}

type readResult struct {
	line string
	err  error
}

func NewController(config *Config) *Controller {
	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	pollInterval := config.EventPollInterval
	if pollInterval == 0 {
		pollInterval = defaultEventPollInterval
	}

	ackRetryTimeout := config.AckRetryTimeout
	if ackRetryTimeout == 0 {
		ackRetryTimeout = defaultAckRetryTimeout
	}

	network := config.Network
	if network == nil {
		network = &chaincfg.MainNetParams
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		node:            config.Node,
		lnurl:           config.Lnurl,
		console:         config.Console,
		network:         network,
		pollInterval:    pollInterval,
		ackRetryTimeout: ackRetryTimeout,
		cmdLine:         cmdline.NewCommandLine(),
		verbs:           make(map[string]bool),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		eventClients:    make(map[uint32]*EventClient),
		api:             config.Api,
		apiListen:       config.ApiListen,
		log:             logger,
	}

	c.registerCommands()

	if c.api != nil {
		c.api.SetController(c)
	}

	return c
}

// Run starts the node and blocks until the operator exits, input ends or
// Shutdown is called. The node is stopped after the event loop finished.
func (c *Controller) Run() error {
	c.log.Infof("Starting node...")

	err := c.node.Start()
	if err != nil {
		return errors.Errorf("Could not start node: %v", err)
	}

	if c.api != nil && c.apiListen != "" {
		lis, err := net.Listen("tcp", c.apiListen)
		if err != nil {
			c.stopNode()
			return errors.Errorf("Could not listen on %v: %v", c.apiListen, err)
		}

		c.apiListeners = append(c.apiListeners, lis)

		go func() {
			err := c.api.Serve(lis)
			if err != nil {
				c.log.Debugf("Stopped serving api: %v", err)
			}
		}()

		c.log.Infof("Serving api on %v", lis.Addr())
	}

	eventsDone := make(chan struct{})

	go func() {
		defer close(eventsDone)
		c.runEvents()
	}()

	c.runCommands()

	c.Shutdown()
	<-eventsDone

	return c.stopNode()
}

func (c *Controller) stopNode() error {
	c.log.Infof("Stopping node...")

	err := c.node.Stop()
	if err != nil {
		return errors.Errorf("Could not stop node: %v", err)
	}

	return nil
}

func (c *Controller) runCommands() {
	for {
		// a read blocked at shutdown is left behind, blocking reads
		// cannot be cancelled
		read := make(chan readResult, 1)

		go func() {
			line, err := c.console.ReadLine()
			read <- readResult{line: line, err: err}
		}()

		select {
		case <-c.done:
			return
		case res := <-read:
			if res.err != nil {
				if res.err != io.EOF {
					c.log.Errorf("Could not read command: %v", res.err)
				}
				return
			}

			if c.Dispatch(res.line) {
				return
			}
		}
	}
}

// Dispatch executes one command line and reports whether it asked to
// exit.
func (c *Controller) Dispatch(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}

	if !c.verbs[words[0]] {
		c.printf("Unknown command: %v", words[0])
		return false
	}

	ctx := &cmdContext{
		ctx:        context.Background(),
		controller: c,
	}

	err := c.cmdLine.ProcessWithContext(ctx, words)
	if err != nil {
		c.log.Debugf("Rejected %q: %v", line, err)
		c.printf("Invalid syntax: %v", err)
		return false
	}

	return ctx.exit
}

func (c *Controller) printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(c.console, format+"\n", args...)
	if err != nil {
		c.log.Errorf("Could not write to console: %v", err)
	}
}

// Shutdown ends Run. It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		for _, lis := range c.apiListeners {
			err := lis.Close()
			if err != nil {
				c.log.Errorf("Could not close listener: %v", err)
			}
		}

		c.cancel()
		close(c.done)

		c.eventClientMtx.Lock()
		for id, client := range c.eventClients {
			delete(c.eventClients, id)
			client.close()
		}
		c.eventClientMtx.Unlock()
	})
}

func (c *Controller) GetInfo(ctx context.Context) (*node.Info, error) {
	return c.node.Info(ctx)
}

func (c *Controller) GetBalances(ctx context.Context) (*node.Balances, error) {
	return c.node.ListBalances(ctx)
}

func (c *Controller) GetChannels(ctx context.Context) ([]*node.Channel, error) {
	return c.node.ListChannels(ctx)
}
