package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/rezzan-go/rezzan"
)

// cmdBench exercises repeated allocate/release pairs of a fixed size,
// keeping the arena bump monotone and quarantine usage bounded, and
// reports throughput once the loop finishes.
func cmdBench(out, errOut *os.File, args []string, environ []string) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	rf := registerRezzanFlags(fs)
	n := fs.Int("n", 100000, "number of allocate/release pairs")
	size := fs.Uint64("size", 64, "payload size, in bytes")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	s, err := rezzan.New(rf.environ(environ))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer s.Close()

	start := time.Now()
	for i := 0; i < *n; i++ {
		p := s.Allocate(*size)
		s.Release(p)
	}
	elapsed := time.Since(start)

	fmt.Fprintf(out, "pairs=%d size=%d elapsed=%s pairs/sec=%.0f\n",
		*n, *size, elapsed, float64(*n)/elapsed.Seconds())
	return 0
}
