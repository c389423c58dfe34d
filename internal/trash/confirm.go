package trash

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirmer asks the operator to approve a destructive operation
type Confirmer interface {
	Confirm(prompt string, items []string) (bool, error)
}

// StdinConfirmer prints the items and reads a yes/no answer. "y", "yes",
// "s" and "si" approve; anything else, including EOF, declines.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// NewStdinConfirmer reads from stdin and writes to stdout
func NewStdinConfirmer() *StdinConfirmer {
	return &StdinConfirmer{In: os.Stdin, Out: os.Stdout}
}

// Confirm implements Confirmer
func (c *StdinConfirmer) Confirm(prompt string, items []string) (bool, error) {
	fmt.Fprintf(c.Out, "\n%s\n", prompt)
	for _, item := range items {
		fmt.Fprintf(c.Out, "  - %s\n", item)
	}
	fmt.Fprint(c.Out, "\nContinue? (y/n): ")

	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "s", "si", "sí":
		return true, nil
	}
	return false, nil
}

// AutoConfirm approves without asking
type AutoConfirm struct{}

// Confirm implements Confirmer
func (AutoConfirm) Confirm(string, []string) (bool, error) {
	return true, nil
}
