package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	welcomeText   = "Hi, how can I help you today?"
	userPrefix    = "You: "
	agentPrefix   = "Agent: "
	maxTaskLength = 2000
)

// terminal is the line-based chat on stdin/stdout. A single goroutine owns
// the reader; Ask only waits on its channel, so a cancelled Ask leaves the
// pending line for the next one.
type terminal struct {
	in    *bufio.Reader
	out   io.Writer
	start sync.Once
	lines chan string
	// err is set before lines is closed.
	err error
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out, lines: make(chan string)}
}

func (t *terminal) read() {
	defer close(t.lines)
	for {
		line, err := t.in.ReadString('\n')
		if line != "" {
			t.lines <- line
		}
		if err != nil {
			t.err = err
			return
		}
	}
}

// Task greets the user and reads the first question.
func (t *terminal) Task(ctx context.Context) (string, error) {
	fmt.Fprintln(t.out, agentPrefix+welcomeText)
	return t.Ask(ctx)
}

func (t *terminal) Ask(ctx context.Context) (string, error) {
	t.start.Do(func() { go t.read() })
	fmt.Fprint(t.out, userPrefix)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", t.err
		}
		return sanitize(line), nil
	}
}

func (t *terminal) Answer(text string) {
	fmt.Fprintln(t.out, agentPrefix+strings.TrimSpace(text))
}

// sanitize trims the line, drops control characters and caps its length.
func sanitize(line string) string {
	line = strings.TrimSpace(line)
	var b strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\t' {
			b.WriteRune(r)
		}
	}
	if runes := []rune(b.String()); len(runes) > maxTaskLength {
		return string(runes[:maxTaskLength])
	}
	return b.String()
}
