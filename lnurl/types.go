package lnurl

import (
	"encoding/json"
	"github.com/go-errors/errors"
	"strconv"
	"strings"
)

const (
	TagPayRequest      = "payRequest"
	TagWithdrawRequest = "withdrawRequest"
	TagChannelRequest  = "channelRequest"
)

var ErrUnknownTag = errors.New("unknown lnurl response tag")

// Msat is an amount in millisatoshis. Services send it as number or as
// string, both are accepted.
type Msat uint64

func (m *Msat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f < 0 || f != float64(uint64(f)) {
			return errors.Errorf("invalid msat amount %v", string(b))
		}
		v = uint64(f)
	}

	*m = Msat(v)
	return nil
}

// Response is one of *PayResponse, *WithdrawResponse or *ChannelResponse.
type Response interface {
	Tag() string
}

type PayResponse struct {
	Callback       string `json:"callback"`
	MinSendable    Msat   `json:"minSendable"`
	MaxSendable    Msat   `json:"maxSendable"`
	Metadata       string `json:"metadata"`
	CommentAllowed int    `json:"commentAllowed,omitempty"`
}

func (*PayResponse) Tag() string { return TagPayRequest }

// Accepts reports whether the service takes the given amount.
func (p *PayResponse) Accepts(amountMsat uint64) bool {
	return uint64(p.MinSendable) <= amountMsat && amountMsat <= uint64(p.MaxSendable)
}

// Description returns the text/plain entry of the metadata.
func (p *PayResponse) Description() string {
	entries := [][]interface{}{}
	if err := json.Unmarshal([]byte(p.Metadata), &entries); err != nil {
		return ""
	}

	for _, entry := range entries {
		if len(entry) == 2 && entry[0] == "text/plain" {
			if s, ok := entry[1].(string); ok {
				return s
			}
		}
	}

	return ""
}

type WithdrawResponse struct {
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	DefaultDescription string `json:"defaultDescription"`
	MinWithdrawable    Msat   `json:"minWithdrawable"`
	MaxWithdrawable    Msat   `json:"maxWithdrawable"`
}

func (*WithdrawResponse) Tag() string { return TagWithdrawRequest }

type ChannelResponse struct {
	Uri      string `json:"uri"`
	Callback string `json:"callback"`
	K1       string `json:"k1"`
}

func (*ChannelResponse) Tag() string { return TagChannelRequest }

// Error is a {"status": "ERROR"} answer of an lnurl service.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "lnurl service error: " + e.Reason
}

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Tag    string `json:"tag"`
}

type invoiceResponse struct {
	PaymentRequest string            `json:"pr"`
	Routes         []json.RawMessage `json:"routes"`
}

func decodeResponse(body []byte) (Response, error) {
	status := statusResponse{}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, errors.Errorf("Could not decode lnurl response: %v", err)
	}

	if strings.EqualFold(status.Status, "ERROR") {
		return nil, &Error{Reason: status.Reason}
	}

	var response Response

	switch status.Tag {
	case TagPayRequest:
		response = &PayResponse{}
	case TagWithdrawRequest:
		response = &WithdrawResponse{}
	case TagChannelRequest:
		response = &ChannelResponse{}
	default:
		return nil, ErrUnknownTag
	}

	if err := json.Unmarshal(body, response); err != nil {
		return nil, errors.Errorf("Could not decode %v response: %v", status.Tag, err)
	}

	return response, nil
}
