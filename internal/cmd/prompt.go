package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

// promptString prompts for a line of input.
func promptString(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	input, err := stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// promptPassword prompts for a password without echoing it. Piped input is
// read as a plain line.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptString(label)
	}

	fmt.Fprint(os.Stderr, label)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(label string) (bool, error) {
	input, err := promptString(label + " (y/n) ")
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes", nil
}

// valueOrPrompt returns v, prompting for it when empty.
func valueOrPrompt(v, label string) (string, error) {
	if v != "" {
		return v, nil
	}
	return promptString(label)
}
