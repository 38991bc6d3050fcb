package main

import (
	"strconv"

	flag "github.com/spf13/pflag"
)

// rezzanFlags mirrors the REZZAN_* environment variables as CLI flags.
// rezzanctl configures its Sanitizer from these flags (see environ).
type rezzanFlags struct {
	disabled       bool
	nonceSize      int
	quarantineSize uint64
	poolSize       uint64
	populate       bool
	debug          bool
	checks         bool
	stats          bool
	printf         bool
}

func registerRezzanFlags(fs *flag.FlagSet) *rezzanFlags {
	f := &rezzanFlags{}
	fs.BoolVar(&f.disabled, "disabled", false, "pass everything through to the host allocator")
	fs.IntVar(&f.nonceSize, "nonce-size", 61, "61 or 64")
	fs.Uint64Var(&f.quarantineSize, "quarantine-size", 256<<20, "quarantine reuse threshold, in bytes")
	fs.Uint64Var(&f.poolSize, "pool-size", 2<<30, "arena size, in bytes")
	fs.BoolVar(&f.populate, "populate", false, "prefault arena pages")
	fs.BoolVar(&f.debug, "debug", false, "emit per-operation trace lines")
	fs.BoolVar(&f.checks, "checks", false, "run expensive post-allocation self-checks")
	fs.BoolVar(&f.stats, "stats", false, "print stats at exit")
	fs.BoolVar(&f.printf, "printf", false, "sanitize %s arguments in the printf interceptor")
	return f
}

// environ renders f as REZZAN_* assignments, appended after base;
// internal/config.Load keeps the last assignment of a duplicated key.
// Every flag is rendered whether or not it was given, so a flag's value
// (its default when not given) always replaces the matching REZZAN_*
// variable in base: under rezzanctl the process environment does not
// change the configuration.
func (f *rezzanFlags) environ(base []string) []string {
	return append(append([]string{}, base...),
		boolEnv("REZZAN_DISABLED", f.disabled),
		intEnv("REZZAN_NONCE_SIZE", f.nonceSize),
		uintEnv("REZZAN_QUARANTINE_SIZE", f.quarantineSize),
		uintEnv("REZZAN_POOL_SIZE", f.poolSize),
		boolEnv("REZZAN_POPULATE", f.populate),
		boolEnv("REZZAN_DEBUG", f.debug),
		boolEnv("REZZAN_CHECKS", f.checks),
		boolEnv("REZZAN_STATS", f.stats),
		boolEnv("REZZAN_PRINTF", f.printf),
	)
}

func boolEnv(name string, v bool) string {
	if v {
		return name + "=1"
	}
	return name + "=0"
}

func intEnv(name string, v int) string {
	return name + "=" + strconv.Itoa(v)
}

func uintEnv(name string, v uint64) string {
	return name + "=" + strconv.FormatUint(v, 10)
}
