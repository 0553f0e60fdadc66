package lnurl

import (
	"context"
	"encoding/json"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-retryablehttp"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultRetryMax = 2

	maxResponseSize = 1 << 20
)

type Config struct {
	Timeout  time.Duration
	RetryMax int

	// HTTPClient replaces the underlying client, its timeout wins.
	HTTPClient *http.Client
	Logger     Logger
}

type Client struct {
	http   *retryablehttp.Client
	logger Logger
}

func NewClient(config *Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = &leveledLogger{logger: logger}

	if config.HTTPClient != nil {
		client.HTTPClient = config.HTTPClient
	} else {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		client.HTTPClient.Timeout = timeout
	}

	return &Client{
		http:   client,
		logger: logger,
	}
}

// Resolve fetches the lnurl response behind a lightning address or lnurl.
func (c *Client) Resolve(ctx context.Context, target string) (Response, error) {
	u, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	c.logger.Debugf("Resolving %v via %v", target, u)

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	return decodeResponse(body)
}

// RequestInvoice asks the service behind a pay response for an invoice.
func (c *Client) RequestInvoice(ctx context.Context, pay *PayResponse, amountMsat uint64) (string, error) {
	if pay.Callback == "" {
		return "", errors.New("pay response has no callback")
	}

	u, err := url.Parse(pay.Callback)
	if err != nil {
		return "", errors.Errorf("Invalid callback %v: %v", pay.Callback, err)
	}

	query := u.Query()
	query.Set("amount", strconv.FormatUint(amountMsat, 10))
	u.RawQuery = query.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}

	status := statusResponse{}
	if err := json.Unmarshal(body, &status); err == nil && strings.EqualFold(status.Status, "ERROR") {
		return "", &Error{Reason: status.Reason}
	}

	invoice := invoiceResponse{}
	if err := json.Unmarshal(body, &invoice); err != nil {
		return "", errors.Errorf("Could not decode invoice response: %v", err)
	}

	if invoice.PaymentRequest == "" {
		return "", errors.New("invoice response has no payment request")
	}

	return invoice.PaymentRequest, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Errorf("Could not create request: %v", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Errorf("Could not reach %v: %v", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Errorf("Could not read response from %v: %v", u.Host, err)
	}

	if resp.StatusCode != http.StatusOK {
		status := statusResponse{}
		if err := json.Unmarshal(body, &status); err == nil && strings.EqualFold(status.Status, "ERROR") {
			return nil, &Error{Reason: status.Reason}
		}

		return nil, errors.Errorf("Unexpected status %v from %v", resp.Status, u.Host)
	}

	return body, nil
}
