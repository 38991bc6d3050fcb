// Command rezzanctl is a small debug/demo driver for package rezzan,
// useful for exercising a configuration or running the trap scenarios
// without writing a harness program.
package main

import (
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// bench's throughput numbers are only meaningful if GOMAXPROCS
	// reflects the container's actual CPU quota, not the host's.
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintln(os.Stderr, "rezzanctl: maxprocs:", err)
	}
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:], os.Environ()))
}

func run(out, errOut *os.File, args []string, environ []string) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "selftest":
		return cmdSelftest(out, errOut, args[1:], environ)
	case "bench":
		return cmdBench(out, errOut, args[1:], environ)
	case "stats":
		return cmdStats(out, errOut, args[1:], environ)
	case "-h", "--help", "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "rezzanctl: unknown command %q\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "Usage: rezzanctl <selftest|bench|stats> [flags]")
	fmt.Fprintln(w, "  selftest          run the trap scenario table")
	fmt.Fprintln(w, "  bench --n --size  allocate/release throughput loop")
	fmt.Fprintln(w, "  stats             run a short workload and print the on-exit stat lines")
}
