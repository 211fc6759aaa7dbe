package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. The real
// App type satisfies it; tests provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	AddMood(ctx context.Context) error
	List(ctx context.Context) error
	Show(ctx context.Context) error
	Delete(ctx context.Context) error
	Values(ctx context.Context) error
	SetValues(ctx context.Context) error
	Export(ctx context.Context) error
	Verify(ctx context.Context) error
	RotateKey(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	Wipe(ctx context.Context) error
	Recovery(ctx context.Context) error
	Encryption(ctx context.Context) error
	Status(ctx context.Context) error
}

// runREPL reads commands line by line from reader and dispatches them to
// a. It returns on EOF or when the user types "exit" or "quit".
//
//	Locked:
//	  - help              show available commands
//	  - unlock            enter the journal password
//	  - status            show mode, schema version and warnings
//	  - encryption        show the storage mode
//	  - recovery          show the last recovery report
//	  - exit | quit       leave the program
//
//	Unlocked, additionally:
//	  - mood              record a feeling log
//	  - list              list feeling logs, newest first
//	  - get               show one record as JSON
//	  - delete            delete one record
//	  - values            show active values in priority order
//	  - set-values        replace the active values
//	  - export            dump every store as JSON
//	  - verify            run the integrity check
//	  - rotate-key        re-encrypt under a fresh salt
//	  - change-password   re-encrypt under a new password
//	  - wipe              delete every row of the current user
//	  - lock              forget the session key
//
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("mv %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: mood, (l)ist, get, delete, values, set-values, export, verify, rotate-key, change-password, wipe, recovery, encryption, status, lock, exit")
			} else {
				printlnFn("Available commands: unlock, status, encryption, recovery, exit")
			}

		case "unlock":
			cmdErr = a.Unlock(ctx)

		case "lock":
			cmdErr = a.Lock(ctx)

		case "mood":
			cmdErr = a.AddMood(ctx)

		case "l", "list":
			cmdErr = a.List(ctx)

		case "get", "show":
			cmdErr = a.Show(ctx)

		case "delete":
			cmdErr = a.Delete(ctx)

		case "values":
			cmdErr = a.Values(ctx)

		case "set-values":
			cmdErr = a.SetValues(ctx)

		case "export":
			cmdErr = a.Export(ctx)

		case "verify":
			cmdErr = a.Verify(ctx)

		case "rotate-key":
			cmdErr = a.RotateKey(ctx)

		case "change-password":
			cmdErr = a.ChangePassword(ctx)

		case "wipe":
			cmdErr = a.Wipe(ctx)

		case "recovery":
			cmdErr = a.Recovery(ctx)

		case "encryption":
			cmdErr = a.Encryption(ctx)

		case "status":
			cmdErr = a.Status(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("Error:", cmdErr)
		}
	}
}
