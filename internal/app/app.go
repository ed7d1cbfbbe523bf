package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "submit":
		return runSubmit(args[1:])
	case "resolve":
		return runResolve(args[1:])
	case "recover":
		return runRecover(args[1:])
	case "canonize":
		return runCanonize(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "kanon CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  kanon <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database and redis connectivity")
	fmt.Fprintln(os.Stderr, "  submit    Submit a tracked reference for resolution")
	fmt.Fprintln(os.Stderr, "  resolve   Drain pending jobs once, or resolve one reference")
	fmt.Fprintln(os.Stderr, "  recover   Re-enqueue unresolved references that are due")
	fmt.Fprintln(os.Stderr, "  canonize  Canonicalize a scraped candidate JSON file")
	fmt.Fprintln(os.Stderr, "  worker    Run the job queue worker loop")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"kanon <command> -h\" for command-specific flags.")
}
