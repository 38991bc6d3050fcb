// Package config parses the REZZAN_* environment variables into a
// validated Options value.
//
// Load takes an explicit env slice rather than reaching for
// os.Environ() directly so the loader stays a pure function of its
// inputs.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnrecognizedValue = errors.New("unrecognized value for environment variable")
	ErrPoolTooSmall      = errors.New("pool size must exceed one growth chunk")
	ErrPoolNotAligned    = errors.New("pool size must be page-aligned")
	ErrPoolExceedsMemory = errors.New("pool size exceeds total system memory")
)

// NonceSize selects the token encoding width.
type NonceSize int

const (
	Nonce61 NonceSize = 61
	Nonce64 NonceSize = 64
)

// Options is the parsed, validated form of the nine
// environment variables.
type Options struct {
	Disabled       bool
	NonceSize      NonceSize
	QuarantineSize uint64 // bytes
	PoolSize       uint64 // bytes
	Populate       bool
	Debug          bool
	Checks         bool
	Stats          bool
	Printf         bool
}

// Defaults returns the default configuration.
func Defaults() Options {
	return Options{
		Disabled:       false,
		NonceSize:      Nonce61,
		QuarantineSize: 256 << 20, // 256 MiB
		PoolSize:       2 << 30,   // 2 GiB
		Populate:       false,
		Debug:          false,
		Checks:         false,
		Stats:          false,
		Printf:         false,
	}
}

const pageSize = 4096

// Load parses environ (in "KEY=value" form, as returned by os.Environ)
// into Options, starting from Defaults. Unrecognized values for any
// recognized REZZAN_* variable are an error; the caller decides how to
// turn that into a fatal startup trap.
func Load(environ []string) (Options, error) {
	opt := Defaults()
	vars := parseEnv(environ)

	if v, ok := vars["REZZAN_DISABLED"]; ok {
		b, err := parseBool("REZZAN_DISABLED", v)
		if err != nil {
			return Options{}, err
		}
		opt.Disabled = b
	}

	if v, ok := vars["REZZAN_NONCE_SIZE"]; ok {
		switch v {
		case "61":
			opt.NonceSize = Nonce61
		case "64":
			opt.NonceSize = Nonce64
		default:
			return Options{}, fmt.Errorf("%w: REZZAN_NONCE_SIZE=%q (must be 61 or 64)", ErrUnrecognizedValue, v)
		}
	}

	if v, ok := vars["REZZAN_QUARANTINE_SIZE"]; ok {
		n, err := parseUint("REZZAN_QUARANTINE_SIZE", v)
		if err != nil {
			return Options{}, err
		}
		opt.QuarantineSize = n
	}

	if v, ok := vars["REZZAN_POOL_SIZE"]; ok {
		n, err := parseUint("REZZAN_POOL_SIZE", v)
		if err != nil {
			return Options{}, err
		}
		opt.PoolSize = n
	}

	if v, ok := vars["REZZAN_POPULATE"]; ok {
		b, err := parseBool("REZZAN_POPULATE", v)
		if err != nil {
			return Options{}, err
		}
		opt.Populate = b
	}

	if v, ok := vars["REZZAN_DEBUG"]; ok {
		b, err := parseBool("REZZAN_DEBUG", v)
		if err != nil {
			return Options{}, err
		}
		opt.Debug = b
	}

	if v, ok := vars["REZZAN_CHECKS"]; ok {
		b, err := parseBool("REZZAN_CHECKS", v)
		if err != nil {
			return Options{}, err
		}
		opt.Checks = b
	}

	if v, ok := vars["REZZAN_STATS"]; ok {
		b, err := parseBool("REZZAN_STATS", v)
		if err != nil {
			return Options{}, err
		}
		opt.Stats = b
	}

	if v, ok := vars["REZZAN_PRINTF"]; ok {
		b, err := parseBool("REZZAN_PRINTF", v)
		if err != nil {
			return Options{}, err
		}
		opt.Printf = b
	}

	return opt, nil
}

// Validate checks structural constraints on the pool size, and rejects
// a pool larger than the reported system memory.
// totalSystemMemory is the caller's responsibility to obtain (e.g. via
// github.com/pbnjay/memory.TotalMemory()) so this package stays a pure
// function of its own inputs.
func (o Options) Validate(totalSystemMemory uint64) error {
	const growthChunk = 32 * 1024

	if o.PoolSize%pageSize != 0 {
		return fmt.Errorf("%w: %d", ErrPoolNotAligned, o.PoolSize)
	}
	if o.PoolSize <= growthChunk {
		return fmt.Errorf("%w: %d", ErrPoolTooSmall, o.PoolSize)
	}
	if totalSystemMemory > 0 && o.PoolSize > totalSystemMemory {
		return fmt.Errorf("%w: pool=%d total=%d", ErrPoolExceedsMemory, o.PoolSize, totalSystemMemory)
	}
	return nil
}

// PoolUnits returns the pool size expressed in 16-byte units.
func (o Options) PoolUnits() uint64 { return o.PoolSize / 16 }

func parseEnv(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func parseBool(name, v string) (bool, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrUnrecognizedValue, name, v)
	}
	return n != 0, nil
}

func parseUint(name, v string) (uint64, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrUnrecognizedValue, name, v)
	}
	return n, nil
}
