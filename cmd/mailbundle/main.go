// Command mailbundle syncs mail into a local store and sorts threads into
// bundles backed by provider labels.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nhle/mailbundle/internal/app"
	"github.com/nhle/mailbundle/internal/logging"
	"github.com/nhle/mailbundle/internal/model"
)

const usage = `usage: mailbundle [--config path] <command> [args]

commands:
  watch                               open the terminal UI (default)
  sync [address]                      run one sync pass for one or every account
  discover [--account a]              reconcile bundles with provider labels
  bundles [--account a]               list bundles with thread and unseen counts
  new-bundle [--account a] [name]     create a bundle and its label
  move [--account a] [--filter] <thread> <from> <to>
                                      move a thread between bundles
  login <address>                     authorize an account
`

// errUsage reports bad arguments; the usage text has already been shown.
var errUsage = errors.New("invalid arguments")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "mailbundle:", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("mailbundle", pflag.ContinueOnError)
	configPath := flags.String("config", model.DefaultConfigPath(), "path to config.yaml")
	flags.SetInterspersed(false)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	name, rest := "watch", flags.Args()
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	// The terminal UI owns stdout and stderr, so it logs to a file.
	var logOut io.Writer = os.Stderr
	if name == "watch" {
		f, err := openLogFile(cfg)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log := logging.New(cfg.Log, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	c := &cli{svc: svc, out: os.Stdout}
	switch name {
	case "watch":
		return c.watch(ctx)
	case "sync":
		return c.sync(ctx, rest)
	case "discover":
		return c.discover(ctx, rest)
	case "bundles":
		return c.bundles(ctx, rest)
	case "new-bundle":
		return c.newBundle(ctx, rest)
	case "move":
		return c.move(ctx, rest)
	case "login":
		return c.login(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return errUsage
	}
}

func openLogFile(cfg *model.AppConfig) (*os.File, error) {
	dir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "mailbundle.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
