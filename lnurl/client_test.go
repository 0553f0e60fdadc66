package lnurl

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const payMetadata = `[[\"text/plain\",\"tip jar\"]]`

type testService struct {
	server        *httptest.Server
	client        *Client
	invoiceCalls  int32
	lastAmount    string
	lastOtherArgs string
}

func newTestService(t *testing.T, wellKnown http.HandlerFunc) *testService {
	s := &testService{}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", wellKnown)
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.invoiceCalls, 1)
		s.lastAmount = r.URL.Query().Get("amount")
		s.lastOtherArgs = r.URL.Query().Get("id")
		fmt.Fprint(w, `{"pr":"lnbcrt1invoice","routes":[]}`)
	})

	s.server = httptest.NewTLSServer(mux)
	t.Cleanup(s.server.Close)

	s.client = NewClient(&Config{
		RetryMax:   1,
		HTTPClient: s.server.Client(),
	})

	return s
}

func (s *testService) address() string {
	return "alice@" + strings.TrimPrefix(s.server.URL, "https://")
}

func (s *testService) payResponse(min, max string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"tag":"payRequest","callback":"%v/callback?id=7","minSendable":%v,"maxSendable":%v,"metadata":"%v"}`,
			s.server.URL, min, max, payMetadata)
	}
}

func TestResolvePayResponse(t *testing.T) {
	var s *testService
	s = newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		s.payResponse("1000", `"100000000"`)(w, r)
	})

	response, err := s.client.Resolve(context.Background(), s.address())
	require.NoError(t, err)

	pay, ok := response.(*PayResponse)
	require.True(t, ok)
	assert.Equal(t, Msat(1000), pay.MinSendable)
	assert.Equal(t, Msat(100000000), pay.MaxSendable)
	assert.Equal(t, "tip jar", pay.Description())
	assert.True(t, pay.Accepts(1000))
	assert.True(t, pay.Accepts(100000000))
	assert.False(t, pay.Accepts(999))
	assert.False(t, pay.Accepts(100000001))

	invoice, err := s.client.RequestInvoice(context.Background(), pay, 21000)
	require.NoError(t, err)
	assert.Equal(t, "lnbcrt1invoice", invoice)
	assert.Equal(t, "21000", s.lastAmount)
	assert.Equal(t, "7", s.lastOtherArgs)
}

func TestResolveOtherResponses(t *testing.T) {
	responses := map[string]string{
		TagWithdrawRequest: `{"tag":"withdrawRequest","callback":"https://x/cb","k1":"aa","minWithdrawable":1,"maxWithdrawable":"2"}`,
		TagChannelRequest:  `{"tag":"channelRequest","uri":"02aa@1.2.3.4:9735","callback":"https://x/cb","k1":"bb"}`,
	}

	for tag, body := range responses {
		body := body
		s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		})

		response, err := s.client.Resolve(context.Background(), s.address())
		require.NoError(t, err, tag)
		assert.Equal(t, tag, response.Tag())
	}
}

func TestResolveServiceError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"ERROR","reason":"no such user"}`)
	})

	_, err := s.client.Resolve(context.Background(), s.address())

	var lnurlErr *Error
	require.ErrorAs(t, err, &lnurlErr)
	assert.Equal(t, "no such user", lnurlErr.Reason)
}

func TestResolveUnknownTag(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag":"login","k1":"aa"}`)
	})

	_, err := s.client.Resolve(context.Background(), s.address())
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var calls int32

	var s *testService
	s = newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		s.payResponse("1", "1000")(w, r)
	})

	_, err := s.client.Resolve(context.Background(), s.address())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestInvoiceError(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ERROR","reason":"amount too low"}`)
	}))
	defer server.Close()

	_, err := s.client.RequestInvoice(context.Background(), &PayResponse{Callback: server.URL}, 1)

	var lnurlErr *Error
	require.ErrorAs(t, err, &lnurlErr)
	assert.Equal(t, "amount too low", lnurlErr.Reason)
}

func TestResolveHonorsContext(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.client.Resolve(ctx, s.address())
	assert.Error(t, err)
}

func TestMsatAcceptsNumbersAndStrings(t *testing.T) {
	var m Msat

	require.NoError(t, m.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, Msat(1000), m)

	require.NoError(t, m.UnmarshalJSON([]byte(`"2000"`)))
	assert.Equal(t, Msat(2000), m)

	require.NoError(t, m.UnmarshalJSON([]byte(`3000.0`)))
	assert.Equal(t, Msat(3000), m)

	assert.Error(t, m.UnmarshalJSON([]byte(`"abc"`)))
	assert.Error(t, m.UnmarshalJSON([]byte(`-5`)))
}
