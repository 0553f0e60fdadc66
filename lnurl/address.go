package lnurl

import (
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/go-errors/errors"
	"net/url"
	"regexp"
	"strings"
)

const (
	lightningPrefix = "lightning:"
	lnurlHrp        = "lnurl"
)

var ErrInvalidTarget = errors.New("not a lightning address or lnurl")

var usernamePattern = regexp.MustCompile(`^[a-z0-9\-_.+]+$`)

var schemes = map[string]bool{
	"lnurlp":  true,
	"lnurlw":  true,
	"lnurlc":  true,
	"keyauth": true,
}

// ParseTarget returns the endpoint behind a lightning address, a bech32
// encoded lnurl or an lnurlp:// style URL.
func ParseTarget(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if len(target) >= len(lightningPrefix) && strings.EqualFold(target[:len(lightningPrefix)], lightningPrefix) {
		target = target[len(lightningPrefix):]
	}

	if target == "" {
		return nil, ErrInvalidTarget
	}

	if strings.Contains(target, "@") {
		return parseLightningAddress(target)
	}

	if strings.HasPrefix(strings.ToLower(target), lnurlHrp+"1") {
		decoded, err := Decode(target)
		if err != nil {
			return nil, err
		}

		return parseURL(decoded)
	}

	if i := strings.Index(target, "://"); i > 0 && schemes[strings.ToLower(target[:i])] {
		return parseURL(target)
	}

	return nil, ErrInvalidTarget
}

// Decode returns the URL encoded in a bech32 lnurl.
func Decode(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", errors.Errorf("Could not decode lnurl: %v", err)
	}

	if hrp != lnurlHrp {
		return "", errors.Errorf("Unexpected lnurl prefix %v", hrp)
	}

	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", errors.Errorf("Could not decode lnurl: %v", err)
	}

	return string(decoded), nil
}

func parseLightningAddress(address string) (*url.URL, error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidTarget
	}

	username := strings.ToLower(parts[0])
	if !usernamePattern.MatchString(username) {
		return nil, errors.Errorf("Invalid username in lightning address %v", address)
	}

	domain := strings.ToLower(parts[1])

	return parseURL("lnurlp://" + domain + "/.well-known/lnurlp/" + username)
}

// parseURL maps LUD-17 schemes to https, or http for onion services.
func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Errorf("Invalid lnurl %v: %v", rawURL, err)
	}

	if u.Host == "" {
		return nil, errors.Errorf("Invalid lnurl %v: missing host", rawURL)
	}

	onion := strings.HasSuffix(u.Hostname(), ".onion")

	switch scheme := strings.ToLower(u.Scheme); {
	case schemes[scheme]:
		if onion {
			u.Scheme = "http"
		} else {
			u.Scheme = "https"
		}
	case scheme == "https":
	case scheme == "http" && onion:
	default:
		return nil, errors.Errorf("Refusing lnurl with scheme %v", u.Scheme)
	}

	return u, nil
}
