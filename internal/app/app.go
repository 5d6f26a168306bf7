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
	case "validate":
		return runValidate(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "filter":
		return runFilter(args[1:])
	case "dedupe":
		return runDedupe(args[1:])
	case "structure":
		return runStructure(args[1:])
	case "load":
		return runLoad(args[1:])
	case "run-once", "run":
		return runRunOnce(args[1:])
	case "purge":
		return runPurge(args[1:])
	case "stats":
		return runStats(args[1:])
	case "articles":
		return runArticles(args[1:])
	case "search":
		return runSearch(args[1:])
	case "admin":
		return runAdmin(args[1:])
	case "serve":
		return runServe(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "ticker CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ticker <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify article store connectivity")
	fmt.Fprintln(os.Stderr, "  validate   Validate structured article JSON files against the schema")
	fmt.Fprintln(os.Stderr, "  fetch      Fetch new articles from the configured sources into staging")
	fmt.Fprintln(os.Stderr, "  filter     Screen staged items for relevance")
	fmt.Fprintln(os.Stderr, "  dedupe     Embed filtered items and drop near-duplicate coverage")
	fmt.Fprintln(os.Stderr, "  structure  Structure unique items through the generation provider")
	fmt.Fprintln(os.Stderr, "  load       Upsert structured articles into the store")
	fmt.Fprintln(os.Stderr, "  run-once   Run one full fetch/filter/structure/db cycle")
	fmt.Fprintln(os.Stderr, "  run        Alias for run-once")
	fmt.Fprintln(os.Stderr, "  purge      Delete stored articles past their retention horizon")
	fmt.Fprintln(os.Stderr, "  stats      Show store and run-ledger counters")
	fmt.Fprintln(os.Stderr, "  articles   List stored articles")
	fmt.Fprintln(os.Stderr, "  search     Search stored articles by title, summary, or tags")
	fmt.Fprintln(os.Stderr, "  admin      Manage the admin run token")
	fmt.Fprintln(os.Stderr, "  serve      Start the HTTP API and the background scheduler")
	fmt.Fprintln(os.Stderr, "  daemon     Install or control the systemd service")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"ticker <command> -h\" for command-specific flags.")
}
