package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// Confirm asks a yes/no question. Anything but y/yes is no.
func Confirm(reader *bufio.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	text, err := reader.ReadString('\n')
	if err != nil && text == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Positional drops the flags the config loaders handle and returns the
// command words.
func Positional(args []string, valueFlags []string) []string {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}

	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			out = append(out, arg)
			continue
		}
		if arg == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.Contains(arg, "=") && takesValue[arg] && i+1 < len(args) {
			i++
		}
	}
	return out
}

// ValueFlags are the flags of the client config that consume a value.
var ValueFlags = []string{"-a", "-u", "-t", "-k", "-c", "-config"}
