package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const version = "dev"

type stringFlags []string

func (s *stringFlags) String() string {
	return strings.Join(*s, ",")
}

func (s *stringFlags) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	// First signal cancels the context; stop() in the commands restores the
	// default handler so a second Ctrl+C force-exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, stop, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stop func(), args []string, stdout, stderr io.Writer) int {
	var showVersion bool
	root := flag.NewFlagSet("specrunner", flag.ContinueOnError)
	root.SetOutput(stderr)
	root.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := root.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Fprintf(stdout, "specrunner %s\n", version)
		return 0
	}

	rest := root.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}

	switch rest[0] {
	case "run":
		return runRun(ctx, stop, rest[1:], stdout, stderr)
	case "import":
		return runImport(ctx, rest[1:], stdout, stderr)
	case "list":
		return runList(ctx, rest[1:], stdout, stderr)
	case "validate":
		return runValidate(ctx, rest[1:], stdout, stderr)
	case "tui":
		return runTUI(ctx, stop, rest[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", rest[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `usage: specrunner [-version] <command> [flags]

commands:
  run       run tasks from the store in dependency order
  import    load an HCL backlog file into the store
  list      show stored tasks in run order
  validate  check the backlog for cycles and dangling dependencies
  tui       interactive run view`)
}
