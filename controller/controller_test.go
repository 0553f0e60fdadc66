package controller

import (
	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/lnshell/node"
	"testing"
	"time"
)

func TestBalanceThenExit(t *testing.T) {
	tc := newTestController(t, "balance", "exit")

	tc.node.On("Start").Return(nil).Once()
	tc.node.On("ListBalances", mock.Anything).Return(&node.Balances{
		TotalOnchainSat:     50_000,
		SpendableOnchainSat: 40_000,
		TotalLightningSat:   1_000,
	}, nil).Once()
	tc.node.On("Stop").Return(nil).Once()

	require.NoError(t, tc.Run())

	output := tc.console.Output()
	assert.Contains(t, output, "On-chain: 50000 sat (spendable 40000 sat, unconfirmed 0 sat)")
	assert.Contains(t, output, "Lightning: 1000 sat")
	tc.node.AssertCalled(t, "Stop")
}

func TestEndOfInputEndsRun(t *testing.T) {
	tc := newTestController(t, "channels")
	close(tc.console.lines)

	tc.node.On("Start").Return(nil)
	tc.node.On("ListChannels", mock.Anything).Return([]*node.Channel{}, nil)
	tc.node.On("Stop").Return(nil)

	require.NoError(t, tc.Run())
	assert.Equal(t, "0\n", tc.console.Output())
}

func TestShutdownEndsRunWhileWaitingForInput(t *testing.T) {
	tc := newTestController(t)

	tc.node.On("Start").Return(nil)
	tc.node.On("Stop").Return(nil)

	result := tc.runAsync()

	time.Sleep(20 * time.Millisecond)
	tc.Shutdown()
	tc.Shutdown()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	tc.node.AssertCalled(t, "Stop")
}

func TestStartFailureIsFatal(t *testing.T) {
	tc := newTestController(t, "balance")

	tc.node.On("Start").Return(errors.New("no wallet"))

	err := tc.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wallet")
	tc.node.AssertNotCalled(t, "Stop")
	tc.node.AssertNotCalled(t, "ListBalances", mock.Anything)
}

func TestStopFailureIsReported(t *testing.T) {
	tc := newTestController(t, "exit")

	tc.node.On("Start").Return(nil)
	tc.node.On("Stop").Return(errors.New("stuck"))

	err := tc.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
}
