package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errPasswordMismatch = errors.New("passwords do not match")

// ReadLine writes label to w and returns the next line from r with
// surrounding blanks removed. A last line without a newline still counts;
// io.EOF is returned only when nothing was left to read.
func ReadLine(r *bufio.Reader, label string, w io.Writer) (string, error) {
	if _, err := fmt.Fprintf(w, "%s: ", label); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadText writes label to w and collects lines from r until a blank line
// or the end of input. Lines are joined with '\n'.
func ReadText(r *bufio.Reader, label string, w io.Writer) (string, error) {
	if _, err := fmt.Fprintf(w, "%s (finish with an empty line)\n", label); err != nil {
		return "", err
	}

	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if err != nil {
			break
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// ReadSecret writes label to w and reads a password from the terminal
// without echo. The caller wipes the returned slice.
func ReadSecret(label string, w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprintf(w, "%s: ", label); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// readNewSecret asks for a new password twice through read and returns it
// once both entries agree. The repeated entry is wiped.
func readNewSecret(read func(string, io.Writer) ([]byte, error), label string, w io.Writer) ([]byte, error) {
	first, err := read(label, w)
	if err != nil {
		return nil, err
	}
	again, err := read("Repeat "+strings.ToLower(label), w)
	if err != nil {
		common.WipeByteArray(first)
		return nil, err
	}
	defer common.WipeByteArray(again)

	if !bytes.Equal(first, again) {
		common.WipeByteArray(first)
		return nil, errPasswordMismatch
	}
	return first, nil
}
