package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/ticker/internal/auth"
	"horse.fit/ticker/internal/cli"
	"horse.fit/ticker/internal/db"
)

func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printAdminUsage()
		return 0
	case "set-token":
		return runAdminSetToken(args[1:])
	case "clear-token":
		return runAdminClearToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin action: %s\n\n", args[0])
		printAdminUsage()
		return 2
	}
}

func runAdminSetToken(args []string) int {
	fs := flag.NewFlagSet("admin set-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	token := fs.String("token", "", "Plaintext token required by the run-trigger endpoint")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "admin set-token does not accept positional args")
		return 2
	}

	hash, err := auth.HashToken(*token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	if err := pool.SetSetting(ctx, db.SettingAdminRunTokenHash, hash); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store token hash: %v\n", err)
		return 1
	}

	fmt.Println("admin run token updated; the run trigger now requires a bearer token")
	return 0
}

func runAdminClearToken(args []string) int {
	fs := flag.NewFlagSet("admin clear-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "admin clear-token does not accept positional args")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	if err := pool.SetSetting(ctx, db.SettingAdminRunTokenHash, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear token hash: %v\n", err)
		return 1
	}

	fmt.Println("admin run token cleared; the run trigger no longer requires authentication")
	return 0
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "ticker admin")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ticker admin <action> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Actions:")
	fmt.Fprintln(os.Stderr, "  set-token     Store a bcrypt hash of --token and require it on POST /run")
	fmt.Fprintln(os.Stderr, "  clear-token   Remove the stored hash and leave the run trigger open")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Set-token flags:")
	fmt.Fprintln(os.Stderr, "  --token <value>   Plaintext token, at least 12 characters")
}
