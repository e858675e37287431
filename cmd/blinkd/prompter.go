package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ConsolePrompter implements the operator-facing prompts (endpoint selection,
// calibration reference conditions) on stdin/stdout.
type ConsolePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsolePrompter returns a prompter bound to the process stdin/stdout.
func NewConsolePrompter() *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// SelectEndpoint lists the enumerated endpoints and reads an index.
func (p *ConsolePrompter) SelectEndpoint(names []string) (int, error) {
	fmt.Fprintln(p.out, "Available serial endpoints:")
	for i, name := range names {
		fmt.Fprintf(p.out, "  [%d] %s\n", i, name)
	}
	for {
		fmt.Fprint(p.out, "Select endpoint index: ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			return 0, err
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || idx < 0 || idx >= len(names) {
			fmt.Fprintln(p.out, "invalid selection")
			continue
		}
		return idx, nil
	}
}

// ConfirmEndpoint asks for a yes/no confirmation of the chosen endpoint.
func (p *ConsolePrompter) ConfirmEndpoint(name string) (bool, error) {
	fmt.Fprintf(p.out, "Use %s? [y/N]: ", name)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// PromptReference blocks until the operator has arranged the reference
// condition for the channel.
func (p *ConsolePrompter) PromptReference(channel int, reference string) error {
	fmt.Fprintf(p.out, "Channel %d: place the %s reference in front of the sensor and press Enter... ", channel+1, reference)
	_, err := p.in.ReadString('\n')
	return err
}
