package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// errNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal.
var errNotInteractive = errors.New("confirmation required: stdin is not a terminal (use --yes)")

// confirm asks a yes/no question on the terminal. Anything but y/yes is no.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errNotInteractive
	}
	return promptYesNo(os.Stdin, os.Stdout, question)
}

func promptYesNo(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
