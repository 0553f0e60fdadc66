package controller

import (
	"bytes"
	"context"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/mock"
	"github.com/the-lightning-land/lnshell/lnurl"
	"github.com/the-lightning-land/lnshell/node/nodetest"
	"io"
	"sync"
	"testing"
	"time"
)

var testNetwork = &chaincfg.RegressionNetParams

type testConsole struct {
	lines chan string
	mu    sync.Mutex
	out   bytes.Buffer
}

func newTestConsole(lines ...string) *testConsole {
	c := &testConsole{
		lines: make(chan string, len(lines)+16),
	}

	for _, line := range lines {
		c.lines <- line
	}

	return c
}

func (c *testConsole) ReadLine() (string, error) {
	line, ok := <-c.lines
	if !ok {
		return "", io.EOF
	}

	return line, nil
}

func (c *testConsole) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.out.Write(p)
}

func (c *testConsole) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.out.String()
}

type fakeResolver struct {
	mock.Mock
}

func (f *fakeResolver) Resolve(ctx context.Context, target string) (lnurl.Response, error) {
	args := f.Called(target)
	response, _ := args.Get(0).(lnurl.Response)
	return response, args.Error(1)
}

func (f *fakeResolver) RequestInvoice(ctx context.Context, pay *lnurl.PayResponse, amountMsat uint64) (string, error) {
	args := f.Called(pay, amountMsat)
	return args.String(0), args.Error(1)
}

type testController struct {
	*Controller
	node     *nodetest.Node
	console  *testConsole
	resolver *fakeResolver
}

func newTestController(t *testing.T, lines ...string) *testController {
	t.Helper()

	n := nodetest.New()
	console := newTestConsole(lines...)
	resolver := &fakeResolver{}

	c := NewController(&Config{
		Node:              n,
		Lnurl:             resolver,
		Console:           console,
		Network:           testNetwork,
		EventPollInterval: 5 * time.Millisecond,
		AckRetryTimeout:   time.Second,
	})

	t.Cleanup(func() {
		n.AssertExpectations(t)
		resolver.AssertExpectations(t)
	})

	return &testController{
		Controller: c,
		node:       n,
		console:    console,
		resolver:   resolver,
	}
}

// runAsync runs the controller and returns a channel with its result.
func (tc *testController) runAsync() chan error {
	result := make(chan error, 1)

	go func() {
		result <- tc.Run()
	}()

	return result
}
