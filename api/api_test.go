package api

import (
	"encoding/json"
	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/the-lightning-land/lnshell/controller"
	"github.com/the-lightning-land/lnshell/node"
	"github.com/the-lightning-land/lnshell/node/nodetest"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// idleConsole never delivers a command.
type idleConsole struct {
	closed chan struct{}
}

func (c *idleConsole) ReadLine() (string, error) {
	<-c.closed
	return "", io.EOF
}

func (c *idleConsole) Write(p []byte) (int, error) {
	return len(p), nil
}

func newTestApi(t *testing.T) (*nodetest.Node, *controller.Controller, *httptest.Server) {
	t.Helper()

	n := nodetest.New()
	console := &idleConsole{closed: make(chan struct{})}
	a := New(&Config{})

	c := controller.NewController(&controller.Config{
		Node:              n,
		Console:           console,
		EventPollInterval: 5 * time.Millisecond,
		Api:               a,
	})

	server := httptest.NewServer(a)

	t.Cleanup(func() {
		server.Close()
		close(console.closed)
		c.Shutdown()
		n.AssertExpectations(t)
	})

	return n, c, server
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()

	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))

	return res.StatusCode
}

func TestGetNode(t *testing.T) {
	n, _, server := newTestApi(t)

	n.On("Info", mock.Anything).Return(&node.Info{
		Pubkey:        "02aa",
		Network:       "signet",
		BlockHeight:   120,
		SyncedToChain: true,
		PendingEvents: 3,
	}, nil)

	info := node.Info{}
	code := getJSON(t, server.URL+"/api/v1/node", &info)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "02aa", info.Pubkey)
	assert.Equal(t, uint32(120), info.BlockHeight)
	assert.True(t, info.SyncedToChain)
	assert.Equal(t, 3, info.PendingEvents)
}

func TestGetBalances(t *testing.T) {
	n, _, server := newTestApi(t)

	n.On("ListBalances", mock.Anything).Return(&node.Balances{
		TotalOnchainSat:   10,
		TotalLightningSat: 20,
	}, nil)

	balances := map[string]uint64{}
	code := getJSON(t, server.URL+"/api/v1/balances", &balances)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(10), balances["totalOnchainSat"])
	assert.Equal(t, uint64(20), balances["totalLightningSat"])
}

func TestGetChannels(t *testing.T) {
	n, _, server := newTestApi(t)

	n.On("ListChannels", mock.Anything).Return(nil, nil)

	res := struct {
		Channels []*node.Channel `json:"channels"`
	}{}
	code := getJSON(t, server.URL+"/api/v1/channels", &res)

	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, res.Channels)
	assert.Empty(t, res.Channels)
}

func TestNodeErrorsAreReported(t *testing.T) {
	n, _, server := newTestApi(t)

	n.On("ListChannels", mock.Anything).Return(nil, errors.New("node offline"))

	res := errorResponse{}
	code := getJSON(t, server.URL+"/api/v1/channels", &res)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "node offline", res.Error)
}

func TestOnlyGetIsRouted(t *testing.T) {
	_, _, server := newTestApi(t)

	res, err := http.Post(server.URL+"/api/v1/balances", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestEventsAreStreamed(t *testing.T) {
	n, c, server := newTestApi(t)

	n.On("Start").Return(nil)
	n.On("Stop").Return(nil)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	result := make(chan error, 1)
	go func() {
		result <- c.Run()
	}()

	n.Emit(&node.PaymentReceived{PaymentHash: "aa", AmountMsat: 1_000})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	message := struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}{}
	require.NoError(t, json.Unmarshal(payload, &message))
	assert.Equal(t, node.EventTypePaymentReceived, message.Type)

	event, err := node.DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), event.(*node.PaymentReceived).AmountMsat)

	c.Shutdown()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	// the stream is closed along with the controller
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
