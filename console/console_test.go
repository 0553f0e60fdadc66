package console

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"strings"
	"testing"
)

func TestReadLines(t *testing.T) {
	c, err := New(&Config{
		In:  strings.NewReader("balance\nsend alice@example.com 100\n"),
		Out: &bytes.Buffer{},
	})
	require.NoError(t, err)
	defer c.Close()

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "balance", line)

	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "send alice@example.com 100", line)

	_, err = c.ReadLine()
	assert.Equal(t, io.EOF, err)
}

func TestWritePassesThrough(t *testing.T) {
	out := &bytes.Buffer{}

	c, err := New(&Config{
		In:  strings.NewReader(""),
		Out: out,
	})
	require.NoError(t, err)

	_, err = io.WriteString(c, "Payment started!\n")
	require.NoError(t, err)
	assert.Equal(t, "Payment started!\n", out.String())
	assert.NoError(t, c.Close())
}
