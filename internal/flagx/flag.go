// Package flagx lets several flag sets share one command line. The config
// file flag and the regular flags are parsed at different moments, so each
// parser picks only the arguments it owns and leaves the rest alone.
package flagx

import (
	"flag"
	"strings"
)

// split breaks a command-line token into its flag name and inline value.
// Both "-name" and "--name" are accepted; isFlag is false for positional
// tokens, a lone "-" and the "--" terminator.
func split(arg string) (name, value string, inline, isFlag bool) {
	if len(arg) < 2 || arg[0] != '-' || arg == "--" {
		return "", "", false, false
	}
	body := strings.TrimPrefix(arg[1:], "-")
	if body == "" {
		return "", "", false, false
	}
	name, value, inline = strings.Cut(body, "=")
	return name, value, inline, true
}

// Pick returns the tokens of args that set one of the named flags, in
// their original order. Names are given without dashes. A flag in
// separate form takes the next token as its value unless that token is a
// flag itself or the flag is listed in boolNames. Scanning stops at "--".
func Pick(args []string, names, boolNames []string) []string {
	want := make(map[string]bool, len(names)+len(boolNames))
	for _, n := range names {
		want[n] = false
	}
	for _, n := range boolNames {
		want[n] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			break
		}
		name, _, inline, isFlag := split(args[i])
		if !isFlag {
			continue
		}
		isBool, ok := want[name]
		if !ok {
			continue
		}
		out = append(out, args[i])
		if inline || isBool || i+1 >= len(args) {
			continue
		}
		if _, _, _, next := split(args[i+1]); !next && args[i+1] != "--" {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

type boolFlag interface {
	IsBoolFlag() bool
}

// Parse parses into fs only the arguments of flags fs defines. Unknown
// flags and positional arguments are skipped instead of failing the parse.
func Parse(fs *flag.FlagSet, args []string) error {
	var names, bools []string
	fs.VisitAll(func(f *flag.Flag) {
		if b, ok := f.Value.(boolFlag); ok && b.IsBoolFlag() {
			bools = append(bools, f.Name)
			return
		}
		names = append(names, f.Name)
	})
	return fs.Parse(Pick(args, names, bools))
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is given. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string
	fs := flag.NewFlagSet("config-file", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to a JSON config file")
	fs.StringVar(&path, "c", "", "path to a JSON config file (short)")
	if err := Parse(fs, args); err != nil {
		return ""
	}
	return path
}
