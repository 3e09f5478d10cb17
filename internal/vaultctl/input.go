package vaultctl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kaytervn/msa-backend/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errKeyMismatch = errors.New("keys do not match")

// GetPassword prints prompt to w and reads a secret from the terminal
// without echo. The caller wipes the returned slice.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// GetNewPassword reads a secret twice and fails unless both entries match.
func GetNewPassword(w io.Writer, prompt string) ([]byte, error) {
	first, err := GetPassword(w, prompt)
	if err != nil {
		return nil, err
	}
	second, err := GetPassword(w, "Repeat "+prompt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(second)
	if len(first) == 0 {
		return nil, errors.New("empty key")
	}
	if !bytes.Equal(first, second) {
		common.WipeByteArray(first)
		return nil, errKeyMismatch
	}
	return first, nil
}
