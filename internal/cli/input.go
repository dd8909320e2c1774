package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"golang.org/x/term"
)

// Longest answer accepted from a visible prompt. Secret values are not capped.
const maxAnswerLen = 256

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// askText prints "label: " and reads one answer from reader. Answers are
// trimmed and must be non-empty printable text of at most maxAnswerLen bytes.
// A final line without a newline is accepted at EOF.
func askText(reader *bufio.Reader, w io.Writer, label string) (string, error) {
	if _, err := fmt.Fprintf(w, "%s: ", label); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	answer := strings.TrimSpace(line)
	switch {
	case answer == "":
		return "", fmt.Errorf("%w: %s is required", common.ErrInvalidInput, strings.ToLower(label))
	case len(answer) > maxAnswerLen:
		return "", fmt.Errorf("%w: %s is longer than %d bytes", common.ErrInvalidInput, strings.ToLower(label), maxAnswerLen)
	case strings.IndexFunc(answer, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: %s contains control characters", common.ErrInvalidInput, strings.ToLower(label))
	}
	return answer, nil
}

// askHidden reads a value from the terminal without echo. Empty values are
// rejected. The caller wipes the returned slice.
func askHidden(w io.Writer, label string) ([]byte, error) {
	if _, err := fmt.Fprintf(w, "%s (hidden): ", label); err != nil {
		return nil, err
	}
	v, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: %s is required", common.ErrInvalidInput, strings.ToLower(label))
	}
	return v, nil
}

// askNewPassphrase reads a passphrase and its confirmation through hidden.
func askNewPassphrase(w io.Writer, hidden func(io.Writer, string) ([]byte, error)) ([]byte, error) {
	pass, err := hidden(w, "Passphrase")
	if err != nil {
		return nil, err
	}
	again, err := hidden(w, "Repeat passphrase")
	if err != nil {
		common.WipeByteArray(pass)
		return nil, err
	}
	defer common.WipeByteArray(again)
	if !bytes.Equal(pass, again) {
		common.WipeByteArray(pass)
		return nil, fmt.Errorf("%w: passphrases do not match", common.ErrInvalidInput)
	}
	return pass, nil
}
