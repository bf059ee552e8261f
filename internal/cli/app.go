package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/osteokeeper/internal/config"
	"github.com/dmitrijs2005/osteokeeper/internal/logging"
	"github.com/dmitrijs2005/osteokeeper/internal/manager"
	"github.com/dmitrijs2005/osteokeeper/internal/storage"
)

var errUsage = errors.New("usage")

func usage(s string) error { return fmt.Errorf("%w: %s", errUsage, s) }

// App is the interactive console over a Manager.
type App struct {
	manager *manager.Manager
	config  *config.Config
	logger  logging.Logger
	scanner *bufio.Scanner
	out     io.Writer
}

// NewApp builds an App reading commands from in and writing to out.
func NewApp(m *manager.Manager, cfg *config.Config, in io.Reader, out io.Writer, logger logging.Logger) *App {
	if logger == nil {
		logger = logging.Discard()
	}
	return &App{
		manager: m,
		config:  cfg,
		logger:  logger.With("component", "cli"),
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// Root runs the REPL until the user exits or input ends.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "OsteoKeeper secure storage (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.scanner)
}

// PickDirectory asks the user for the directfs directory. It is used as the
// directory picker of the directfs driver.
func (a *App) PickDirectory(ctx context.Context) (string, error) {
	return GetSimpleText(a.scanner, "Directory for encrypted health data", a.out)
}

func (a *App) status() string {
	return a.manager.State().String()
}

// store returns the entity store or an error explaining why there is none.
func (a *App) store(entity string) (*storage.EntityStore, error) {
	if a.manager.State() == manager.StateUnconfigured {
		return nil, errors.New("secure storage is not configured, run 'configure'")
	}
	s := a.manager.Store(entity)
	if s == nil {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	return s, nil
}
