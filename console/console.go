// Package console reads operator commands line by line. On a terminal it
// switches to raw mode so output from other goroutines does not garble
// the line being typed.
package console

import (
	"bufio"
	"github.com/go-errors/errors"
	"golang.org/x/term"
	"io"
	"os"
	"sync"
)

type Config struct {
	In     io.Reader
	Out    io.Writer
	Prompt string
	Logger Logger
}

type Console struct {
	mu       sync.Mutex
	terminal *term.Terminal
	scanner  *bufio.Scanner
	out      io.Writer
	fd       int
	oldState *term.State
	logger   Logger
}

func New(config *Config) (*Console, error) {
	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	in := config.In
	if in == nil {
		in = os.Stdin
	}

	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	c := &Console{
		out:    out,
		fd:     -1,
		logger: logger,
	}

	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		fd := int(file.Fd())

		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return nil, errors.Errorf("Could not switch terminal to raw mode: %v", err)
		}

		c.fd = fd
		c.oldState = oldState
		c.terminal = term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{in, out}, config.Prompt)

		logger.Debugf("Reading commands from terminal")

		return c, nil
	}

	c.scanner = bufio.NewScanner(in)
	logger.Debugf("Reading commands line by line")

	return c, nil
}

// ReadLine blocks until the operator entered a line. It returns io.EOF
// once input ends.
func (c *Console) ReadLine() (string, error) {
	if c.terminal != nil {
		return c.terminal.ReadLine()
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return c.scanner.Text(), nil
}

// Write is safe to call while a line is being read.
func (c *Console) Write(p []byte) (int, error) {
	if c.terminal != nil {
		return c.terminal.Write(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.out.Write(p)
}

// Close restores the terminal state.
func (c *Console) Close() error {
	if c.oldState == nil {
		return nil
	}

	err := term.Restore(c.fd, c.oldState)
	c.oldState = nil
	if err != nil {
		return errors.Errorf("Could not restore terminal: %v", err)
	}

	return nil
}
