package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// promptCredentials collects a username and a new password without echoing
// the password, for change_password invoked with no arguments.
func promptCredentials() (username, password string, err error) {
	fmt.Fprint(os.Stderr, "Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err = reader.ReadString('\n')
	if err != nil {
		return "", "", errors.Wrap(err, "reading username")
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(os.Stderr, "New password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", errors.Wrap(err, "reading password")
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", errors.Wrap(err, "reading password confirmation")
	}
	if string(raw) != string(confirm) {
		return "", "", errors.New("passwords do not match")
	}
	return username, string(raw), nil
}
