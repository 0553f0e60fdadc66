package lnurl

import (
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func encodeLnurl(t *testing.T, rawURL string) string {
	t.Helper()

	data, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	require.NoError(t, err)

	encoded, err := bech32.Encode(lnurlHrp, data)
	require.NoError(t, err)

	return strings.ToUpper(encoded)
}

func TestParseLightningAddress(t *testing.T) {
	u, err := ParseTarget("Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/.well-known/lnurlp/alice", u.String())

	u, err = ParseTarget("lightning:bob@abcdef.onion")
	require.NoError(t, err)
	assert.Equal(t, "http://abcdef.onion/.well-known/lnurlp/bob", u.String())
}

func TestParseLightningAddressInvalid(t *testing.T) {
	for _, target := range []string{"", "@example.com", "alice@", "a b@example.com", "a@b@c", "hello"} {
		_, err := ParseTarget(target)
		assert.Error(t, err, target)
	}
}

func TestParseBech32Lnurl(t *testing.T) {
	encoded := encodeLnurl(t, "https://service.com/api/v1/lnurl/pay?id=42")

	u, err := ParseTarget(encoded)
	require.NoError(t, err)
	assert.Equal(t, "https://service.com/api/v1/lnurl/pay?id=42", u.String())

	u, err = ParseTarget("lightning:" + encoded)
	require.NoError(t, err)
	assert.Equal(t, "service.com", u.Host)
}

func TestDecodeRejectsOtherPrefixes(t *testing.T) {
	_, err := Decode("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	assert.Error(t, err)
}

func TestParseSchemeUrls(t *testing.T) {
	u, err := ParseTarget("lnurlp://service.com/pay")
	require.NoError(t, err)
	assert.Equal(t, "https://service.com/pay", u.String())

	u, err = ParseTarget("LNURLW://service.onion/withdraw")
	require.NoError(t, err)
	assert.Equal(t, "http://service.onion/withdraw", u.String())

	_, err = ParseTarget("ftp://service.com/pay")
	assert.Error(t, err)
}

func TestPlainHttpIsRefused(t *testing.T) {
	_, err := ParseTarget(encodeLnurl(t, "http://service.com/pay"))
	assert.Error(t, err)
}
