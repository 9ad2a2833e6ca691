package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peterh/liner"
)

var errAborted = errors.New("aborted")

// readSecret asks for a value without echoing it. When stdout is not a
// terminal the value is read as a plain line so scripts can pipe it in.
func readSecret(label string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	secret, err := line.PasswordPrompt(label + ": ")
	if errors.Is(err, liner.ErrNotTerminalOutput) {
		secret, err = line.Prompt(label + ": ")
	}
	switch {
	case errors.Is(err, liner.ErrPromptAborted):
		return "", errAborted
	case err != nil:
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return secret, nil
}

// secretOrPrompt returns value when set, otherwise prompts for it.
func secretOrPrompt(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return readSecret(label)
}
