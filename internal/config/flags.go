package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/flagx"
)

// parseFlags populates cfg from the flags it knows, ignoring the rest of args.
//
//	-e          embedded mode
//	-d string   directfs directory
//	-b string   preferred backend
//	-t int      future timestamp tolerance in seconds
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-d", "-b", "-t"}, "-e")

	fs := flag.NewFlagSet("hds", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&cfg.Embedded, "e", cfg.Embedded, "run embedded in a host application")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "directory for the directfs backend")
	fs.StringVar(&cfg.PreferredBackend, "b", cfg.PreferredBackend, "preferred backend (directfs|embeddeddb)")
	tolerance := fs.Int("t", int(cfg.FutureTolerance.Seconds()), "future timestamp tolerance (in seconds)")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	cfg.FutureTolerance = time.Duration(*tolerance) * time.Second
	return nil
}
