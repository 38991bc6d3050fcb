package main

import (
	"fmt"
	"os"
	"os/exec"
	"unsafe"

	flag "github.com/spf13/pflag"

	"github.com/rezzan-go/rezzan"
)

// selftestScenario is one row of the concrete-scenario table.
// wantTrap scenarios are driven through a forked subprocess (via
// rezzanSelftestSubprocessEnv below) because a real panic must
// actually unwind the process to be verified; non-trapping scenarios
// run in-process.
type selftestScenario struct {
	name     string
	wantTrap bool
	run      func(s *rezzan.Sanitizer)
}

var selftestScenarios = []selftestScenario{
	{
		name:     "write-last-byte-then-release",
		wantTrap: false,
		run: func(s *rezzan.Sanitizer) {
			p := s.Allocate(10)
			*(*byte)(unsafe.Add(p, 9)) = 'x'
			s.Release(p)
		},
	},
	{
		name:     "write-past-end-61bit",
		wantTrap: true,
		run: func(s *rezzan.Sanitizer) {
			p := s.Allocate(10)
			s.Check(p, 11)
		},
	},
	{
		name:     "write-after-release",
		wantTrap: true,
		run: func(s *rezzan.Sanitizer) {
			p := s.Allocate(10)
			s.Release(p)
			s.Check(p, 1)
		},
	},
	{
		name:     "double-free",
		wantTrap: true,
		run: func(s *rezzan.Sanitizer) {
			p := s.Allocate(10)
			s.Release(p)
			s.Release(p)
		},
	},
	{
		name:     "free-not-at-base",
		wantTrap: true,
		run: func(s *rezzan.Sanitizer) {
			p := s.Allocate(10)
			s.Release(unsafe.Add(p, 8))
		},
	},
}

// rezzanSelftestSubprocessEnv names the scenario a forked rezzanctl
// invocation should run when set, letting the parent selftest process
// observe a child's exit code instead of its own.
const rezzanSelftestSubprocessEnv = "REZZANCTL_SELFTEST_SCENARIO"

func cmdSelftest(out, errOut *os.File, args []string, environ []string) int {
	fs := flag.NewFlagSet("selftest", flag.ContinueOnError)
	rf := registerRezzanFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	if scenario := os.Getenv(rezzanSelftestSubprocessEnv); scenario != "" {
		return runSelftestScenarioInProcess(errOut, scenario, rf.environ(environ))
	}

	failures := 0
	for _, sc := range selftestScenarios {
		ok := runSelftestScenario(errOut, sc, rf.environ(environ))
		status := "PASS"
		if !ok {
			status = "FAIL"
			failures++
		}
		fmt.Fprintf(out, "%-32s %s\n", sc.name, status)
	}
	if failures > 0 {
		return 1
	}
	return 0
}

func runSelftestScenario(errOut *os.File, sc selftestScenario, environ []string) bool {
	if !sc.wantTrap {
		return runSelftestScenarioDirect(errOut, sc, environ)
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return false
	}
	cmd := exec.Command(self, "selftest")
	cmd.Env = append(append([]string{}, environ...), rezzanSelftestSubprocessEnv+"="+sc.name)
	err = cmd.Run()
	return err != nil // a trap must crash the child non-zero
}

func runSelftestScenarioDirect(errOut *os.File, sc selftestScenario, environ []string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(errOut, "%s: unexpected panic: %v\n", sc.name, r)
			ok = false
		}
	}()
	s, err := rezzan.New(environ)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return false
	}
	defer s.Close()
	sc.run(s)
	return true
}

func runSelftestScenarioInProcess(errOut *os.File, name string, environ []string) int {
	for _, sc := range selftestScenarios {
		if sc.name != name {
			continue
		}
		s, err := rezzan.New(environ)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		defer s.Close()
		sc.run(s)
		return 0
	}
	fmt.Fprintf(errOut, "unknown scenario %q\n", name)
	return 2
}
