package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/rezzan-go/rezzan"
)

// cmdStats builds a Sanitizer from the resolved flags/environment and
// prints the on-exit stat lines immediately, useful for
// checking a configuration without writing a harness program.
func cmdStats(out, errOut *os.File, args []string, environ []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	rf := registerRezzanFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}
	rf.stats = true

	s, err := rezzan.New(rf.environ(environ))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	p := s.Allocate(64)
	s.Release(p)
	if err := s.Close(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}
