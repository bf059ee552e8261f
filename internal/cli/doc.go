// Package cli provides the interactive OsteoKeeper secure storage console.
//
// It drives a manager.Manager from a line-oriented REPL: configure a backend,
// lock and unlock it, browse and edit entity records, verify integrity,
// export and import .phds files, take whole-system backups and migrate
// legacy data. Passwords are read from the terminal without echo.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
