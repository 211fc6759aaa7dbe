package cli

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadLine(t *testing.T) {
	r := reader("  calm  \nlast")
	var out bytes.Buffer

	got, err := ReadLine(r, "Feeling", &out)
	require.NoError(t, err)
	assert.Equal(t, "calm", got)
	assert.Equal(t, "Feeling: ", out.String())

	got, err = ReadLine(r, "Feeling", &out)
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = ReadLine(r, "Feeling", &out)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "stops at blank line", input: "slept well\nwalked\n\nignored\n", want: "slept well\nwalked"},
		{name: "windows line endings", input: "one\r\ntwo\r\n\r\n", want: "one\ntwo"},
		{name: "nothing typed", input: "\n", want: ""},
		{name: "end of input", input: "one\ntwo", want: "one\ntwo"},
		{name: "empty input", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := ReadText(reader(tt.input), "Note", &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(out.String(), "Note "))
		})
	}
}

func TestReadSecret(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	readPassword = func(int) ([]byte, error) { return []byte("tea at noon"), nil }
	var out bytes.Buffer
	pw, err := ReadSecret("Password", &out)
	require.NoError(t, err)
	assert.Equal(t, "tea at noon", string(pw))
	assert.Equal(t, "Password: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	_, err = ReadSecret("Password", &out)
	assert.EqualError(t, err, "not a terminal")
}

func secrets(entries ...string) func(string, io.Writer) ([]byte, error) {
	return func(label string, w io.Writer) ([]byte, error) {
		if len(entries) == 0 {
			return nil, io.EOF
		}
		next := entries[0]
		entries = entries[1:]
		_, _ = io.WriteString(w, label+"\n")
		return []byte(next), nil
	}
}

func TestReadNewSecret(t *testing.T) {
	var out bytes.Buffer
	pw, err := readNewSecret(secrets("spring", "spring"), "New password", &out)
	require.NoError(t, err)
	assert.Equal(t, "spring", string(pw))
	assert.Equal(t, "New password\nRepeat new password\n", out.String())

	_, err = readNewSecret(secrets("spring", "summer"), "New password", io.Discard)
	assert.ErrorIs(t, err, errPasswordMismatch)

	_, err = readNewSecret(secrets("spring"), "New password", io.Discard)
	assert.ErrorIs(t, err, io.EOF)
}
