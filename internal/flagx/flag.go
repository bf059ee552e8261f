// Package flagx lets several loaders share one command line: each picks out
// only the flags it knows before parsing.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs returns the arguments of args that belong to allowed flags,
// together with their values.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      -config=conf.json
//
// Flags listed in switches are boolean: they are kept but never consume the
// following argument.
func FilterArgs(args []string, allowed []string, switches ...string) []string {
	valued := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		valued[f] = struct{}{}
	}
	bools := make(map[string]struct{}, len(switches))
	for _, f := range switches {
		bools[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			_, ok := valued[name]
			_, isBool := bools[name]
			if ok || isBool {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := bools[arg]; ok {
			filtered = append(filtered, arg)
			continue
		}

		if _, ok := valued[arg]; ok {
			filtered = append(filtered, arg)
			// the next argument is the value unless it looks like another flag
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// JSONConfigPath extracts the config file path given with -c or -config.
// It returns "" when neither is present.
func JSONConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return path
}
