package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it;
// tests provide a lightweight stub.
type execIface interface {
	Configure(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Status(ctx context.Context) error
	List(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Verify(ctx context.Context) error
	Export(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
	Restore(ctx context.Context, args []string) error
	Migrate(ctx context.Context, args []string) error
	Reset(ctx context.Context) error
}

const helpText = `Available commands:
  configure                         set up secure storage with a new password
  unlock | lock                     unlock with the password / forget it
  status                            show state and storage info
  list <entity>                     list records
  add <entity> name=value...        create a record (id=N updates)
  delete <entity> <id>              delete a record
  verify                            check integrity of every entity
  export <entity> <file>            write a password-protected .phds export
  import <entity> <file> [replace]  read a .phds export
  backup <file>                     write a whole-system backup
  restore <file> [replace]          read a whole-system backup
  migrate <userID>                  move legacy data into secure storage
  reset                             forget the configuration (data is kept)
  exit | quit`

// runREPL reads commands from scanner and dispatches them to a until EOF or
// exit. Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("hds (%s)> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "configure":
			err = a.Configure(ctx)
		case "unlock":
			err = a.Unlock(ctx)
		case "lock":
			err = a.Lock(ctx)
		case "status":
			err = a.Status(ctx)
		case "l", "list":
			err = a.List(ctx, args)
		case "add":
			err = a.Add(ctx, args)
		case "delete":
			err = a.Delete(ctx, args)
		case "verify":
			err = a.Verify(ctx)
		case "export":
			err = a.Export(ctx, args)
		case "import":
			err = a.Import(ctx, args)
		case "backup":
			err = a.Backup(ctx, args)
		case "restore":
			err = a.Restore(ctx, args)
		case "migrate":
			err = a.Migrate(ctx, args)
		case "reset":
			err = a.Reset(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		switch {
		case err == nil:
		case errors.Is(err, errUsage):
			printlnFn("Usage:", strings.TrimPrefix(err.Error(), errUsage.Error()+": "))
		default:
			printlnFn("Error:", err)
		}
	}
}
