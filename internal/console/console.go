// Package console owns the terminal: it is the single reader of stdin, so
// chat input and operator confirmations never compete for lines.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/render"
)

// ErrClosed is returned once input has reached EOF.
var ErrClosed = errors.New("console input closed")

type line struct {
	text string
	err  error
	// seq numbers lines in the order they were read from in.
	seq int64
}

// Console reads lines from in on one goroutine and hands them out on demand.
type Console struct {
	in  io.Reader
	out io.Writer

	startOnce sync.Once
	lines     chan line
	// asking admits one confirmation at a time
	asking chan struct{}
	mu     sync.Mutex
	closed error

	// read counts lines taken off in. After a confirmation is abandoned,
	// lines read before the next confirmation prompt answer nothing and
	// are dropped.
	read  atomic.Int64
	stale bool
}

// New creates a console. Reading starts on first use.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, lines: make(chan line), asking: make(chan struct{}, 1)}
}

func (c *Console) start() {
	c.startOnce.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.in)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				c.lines <- line{text: scanner.Text(), seq: c.read.Add(1)}
			}
			err := scanner.Err()
			if err == nil {
				err = ErrClosed
			}
			c.lines <- line{err: err}
			close(c.lines)
		}()
	})
}

// ReadLine prints prompt and waits for the next line or ctx.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	return c.readLine(ctx, prompt, false)
}

// readLine with answer set reads an operator answer: lines typed while an
// earlier confirmation was left hanging are skipped, and abandoning this
// read opens such a window for the next one.
func (c *Console) readLine(ctx context.Context, prompt string, answer bool) (string, error) {
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return "", err
	}
	stale := false
	if answer {
		stale = c.stale
		c.stale = false
	}
	c.mu.Unlock()

	c.start()
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	shown := c.read.Load()
	for {
		select {
		case <-ctx.Done():
			if answer {
				c.mu.Lock()
				c.stale = true
				c.mu.Unlock()
			}
			return "", ctx.Err()
		case l, ok := <-c.lines:
			if !ok {
				return "", ErrClosed
			}
			if l.err != nil {
				c.mu.Lock()
				c.closed = l.err
				c.mu.Unlock()
				return "", l.err
			}
			if stale && l.seq <= shown {
				slog.Debug("dropping input typed before the confirmation prompt", "seq", l.seq)
				continue
			}
			return l.text, nil
		}
	}
}

// Println writes a line to the console output.
func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

// Confirm asks the operator about a pending tool call. Only an explicit yes
// approves; anything else, EOF or ctx ending is a refusal.
func (c *Console) Confirm(ctx context.Context, p gatekeeper.Prompt) (bool, string, error) {
	select {
	case c.asking <- struct{}{}:
		defer func() { <-c.asking }()
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
	fmt.Fprintln(c.out, render.OperatorPrompt(p))
	for {
		answer, err := c.readLine(ctx, "Allow? [y/N] ", true)
		if err != nil {
			return false, "", err
		}
		answer = strings.TrimSpace(answer)
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, "approved at console", nil
		case "", "n", "no":
			return false, "rejected at console", nil
		case "?":
			fmt.Fprintln(c.out, p.Description)
			continue
		default:
			return false, "rejected at console: " + answer, nil
		}
	}
}
