package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	unlocked bool
	failOn   string

	calls []string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeExec) isUnlocked() bool { return f.unlocked }
func (f *fakeExec) Unlock(context.Context) error {
	f.unlocked = true
	return f.record("unlock")
}
func (f *fakeExec) Lock(context.Context) error {
	f.unlocked = false
	return f.record("lock")
}
func (f *fakeExec) AddMood(context.Context) error        { return f.record("mood") }
func (f *fakeExec) List(context.Context) error           { return f.record("list") }
func (f *fakeExec) Show(context.Context) error           { return f.record("get") }
func (f *fakeExec) Delete(context.Context) error         { return f.record("delete") }
func (f *fakeExec) Values(context.Context) error         { return f.record("values") }
func (f *fakeExec) SetValues(context.Context) error      { return f.record("set-values") }
func (f *fakeExec) Export(context.Context) error         { return f.record("export") }
func (f *fakeExec) Verify(context.Context) error         { return f.record("verify") }
func (f *fakeExec) RotateKey(context.Context) error      { return f.record("rotate-key") }
func (f *fakeExec) ChangePassword(context.Context) error { return f.record("change-password") }
func (f *fakeExec) Wipe(context.Context) error           { return f.record("wipe") }
func (f *fakeExec) Recovery(context.Context) error       { return f.record("recovery") }
func (f *fakeExec) Encryption(context.Context) error     { return f.record("encryption") }
func (f *fakeExec) Status(context.Context) error         { return f.record("status") }

func capturePrints(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	origPrint := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSpace(fmt.Sprintln(a...)))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	capturePrints(t)

	input := strings.Join([]string{
		"help",
		"unlock",
		"",
		"mood",
		"l",
		"get",
		"delete",
		"values",
		"set-values",
		"export",
		"verify",
		"rotate-key",
		"change-password",
		"wipe",
		"recovery",
		"encryption",
		"status",
		"lock",
		"exit",
		"mood",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewReader(strings.NewReader(input)))

	assert.Equal(t, []string{
		"unlock", "mood", "list", "get", "delete", "values", "set-values", "export", "verify",
		"rotate-key", "change-password", "wipe", "recovery", "encryption", "status", "lock",
	}, exec.calls)
}

func TestRunREPL_HelpUnknownAndErrors(t *testing.T) {
	lines := capturePrints(t)

	input := "help\nfoobar\nunlock\nhelp\nverify\nquit\n"
	exec := &fakeExec{failOn: "verify"}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader(input)))

	out := strings.Join(*lines, "\n")
	assert.Contains(t, out, "Available commands: unlock, status")
	assert.Contains(t, out, "Available commands: mood")
	assert.Contains(t, out, "Unknown command: foobar")
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_StopsOnEOF(t *testing.T) {
	capturePrints(t)

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("values")))

	assert.Equal(t, []string{"values"}, exec.calls)
}
