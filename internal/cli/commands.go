package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/filex"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

// Configure asks for a new password twice and configures secure storage for
// the entities from the config. Existing data in the chosen location must
// decrypt with that password.
func (a *App) Configure(ctx context.Context) error {
	pw, err := GetPassword("New password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	again, err := GetPassword("Repeat password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(again)

	if string(pw) != string(again) {
		return errors.New("passwords do not match")
	}

	if err := a.manager.Configure(ctx, pw, a.config.Entities, a.configureHandle()); err != nil {
		return err
	}
	info := a.manager.Info(ctx)
	fmt.Fprintf(a.out, "Configured %s storage for %d entities\n", info.Backend, len(a.manager.Entities()))
	return nil
}

func (a *App) Unlock(ctx context.Context) error {
	pw, err := GetPassword("Password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if !a.manager.Unlock(ctx, pw) {
		return errors.New("wrong password or storage not configured")
	}
	fmt.Fprintln(a.out, "Unlocked")
	return nil
}

func (a *App) Lock(ctx context.Context) error {
	a.manager.Lock()
	fmt.Fprintln(a.out, "Locked")
	return nil
}

// Status prints the manager state and storage info as JSON.
func (a *App) Status(ctx context.Context) error {
	return a.printJSON(a.manager.Info(ctx))
}

func (a *App) List(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("list <entity>")
	}
	s, err := a.store(args[0])
	if err != nil {
		return err
	}
	records, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(b))
	}
	fmt.Fprintf(a.out, "%d record(s)\n", len(records))
	return nil
}

// Add saves a record built from name=value arguments. An id field updates
// the record with that id.
func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("add <entity> name=value...")
	}
	s, err := a.store(args[0])
	if err != nil {
		return err
	}
	rec, err := ParseFields(args[1:])
	if err != nil {
		return err
	}
	saved, err := s.Save(ctx, rec)
	if err != nil {
		return err
	}
	id, _ := saved.ID()
	fmt.Fprintf(a.out, "Saved %s id=%s\n", args[0], id)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("delete <entity> <id>")
	}
	s, err := a.store(args[0])
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s id=%s\n", args[0], args[1])
	return nil
}

// Verify prints the integrity report of every entity.
func (a *App) Verify(ctx context.Context) error {
	reports, err := a.manager.VerifyAllIntegrity(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(reports))
	for n := range reports {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := 0
	for _, n := range names {
		rep := reports[n]
		status := "ok"
		if !rep.Valid {
			status = "FAILED"
			failed++
		}
		fmt.Fprintf(a.out, "%-24s %s\n", n, status)
		for _, e := range rep.Errors {
			fmt.Fprintf(a.out, "  error: %s\n", e)
		}
		for _, w := range rep.Warnings {
			fmt.Fprintf(a.out, "  warning: %s\n", w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d entities failed verification", common.ErrIntegrity, failed)
	}
	return nil
}

func (a *App) Export(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("export <entity> <file>")
	}
	s, err := a.store(args[0])
	if err != nil {
		return err
	}
	data, err := s.ExportSecure(ctx)
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(args[1], data, filex.FilePerm); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %s to %s\n", args[0], args[1])
	return nil
}

// Import reads a .phds export. The password is the one the file was
// exported under. A trailing "replace" discards current records first.
func (a *App) Import(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usage("import <entity> <file> [replace]")
	}
	s, err := a.store(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	pw, err := GetPassword("Export password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	rep, err := s.ImportSecure(ctx, data, pw, strategyArg(args, 2))
	if err != nil {
		return err
	}
	a.printImport(args[0], rep)
	return nil
}

func (a *App) Backup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("backup <file>")
	}
	data, err := a.manager.ExportBackup(ctx)
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(args[0], data, filex.FilePerm); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backup written to %s\n", args[0])
	return nil
}

// Restore imports a whole-system backup, possibly made on another backend.
func (a *App) Restore(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("restore <file> [replace]")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	pw, err := GetPassword("Backup password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	reports, err := a.manager.ImportBackup(ctx, data, pw, strategyArg(args, 1))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(reports))
	for n := range reports {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		a.printImport(n, reports[n])
	}
	return nil
}

func (a *App) Migrate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("migrate <userID>")
	}
	rep, err := a.manager.MigrateFromLegacyStorage(ctx, args[0])
	if err != nil {
		return err
	}
	return a.printJSON(rep)
}

// Reset forgets the configuration after confirmation. Data stays on disk.
func (a *App) Reset(ctx context.Context) error {
	answer, err := GetSimpleText(a.scanner, "Forget the storage configuration? Encrypted data is kept. Type 'yes' to confirm", a.out)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}
	if err := a.manager.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Configuration reset")
	return nil
}

// configureHandle is the directory passed to Configure. The database backend
// resolves its own path, so hosted or database-only setups pass none.
func (a *App) configureHandle() string {
	if a.config.Embedded || storage.BackendType(a.config.PreferredBackend) == storage.BackendEmbeddedDB {
		return ""
	}
	return a.config.DataDir
}

func strategyArg(args []string, i int) storage.Strategy {
	if len(args) > i {
		return storage.ParseStrategy(strings.ToLower(args[i]))
	}
	return storage.StrategyMerge
}

func (a *App) printImport(entity string, rep storage.ImportReport) {
	fmt.Fprintf(a.out, "%s: %d added, %d updated, %d total\n", entity, rep.Added, rep.Updated, rep.Total)
	for _, w := range rep.Warnings {
		fmt.Fprintf(a.out, "  warning: %s\n", w)
	}
}

func (a *App) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}
