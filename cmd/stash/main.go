package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"stage": true, "complete": true, "fail": true, "export": true,
	"recover": true, "placeholders": true,
	"list": true, "status": true, "errors": true,
	"backup": true, "verify-backup": true, "backup-status": true, "prune": true,
	"cursor": true, "auth": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _            _
   ___| |_ __ _ ___| |__
  / __| __/ _' / __| '_ \
  \__ \ || (_| \__ \ | | |
  |___/\__\__,_|___/_| |_|

  Capture ledger and recovery engine

  Usage: stash <command> [options]
         stash --help

  MCP server mode requires piped input.`)
}

// exit prints err (if it has a message) and exits with its code.
func exit(err error) {
	code := 1
	if coder, ok := err.(cli.ExitCoder); ok {
		code = coder.ExitCode()
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	}
	os.Exit(code)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			exit(err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".stash")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ResolvePaths(baseDir)

	logger, closeLog := logging.Setup(cfg.LogFile, logging.ParseLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "names", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", "names", unknown)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		logger.Error("failed to initialize database", "error", err, "base_dir", baseDir)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(&cliDeps{db: database, cfg: cfg, logger: logger, lockDir: baseDir})
		if err := app.Run(os.Args); err != nil {
			database.Close()
			exit(err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'stash --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default). The server is the only writer while it runs.
	lock, err := db.AcquireWriterLock(baseDir)
	if err != nil {
		logger.Error("another stash process holds the writer lock", "error", err)
		os.Exit(1)
	}
	defer func() { _ = lock.Unlock() }()

	if err := mcp.Run(database, cfg, Version, logger); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
