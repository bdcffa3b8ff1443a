package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"github.com/nhle/mailbundle/internal/app"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
	"github.com/nhle/mailbundle/internal/ui/form"
)

type cli struct {
	svc *app.Service
	out io.Writer
}

// parse parses a subcommand's flags and checks its positional argument
// count.
func parse(fs *pflag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if n := fs.NArg(); n < minArgs || n > maxArgs {
		fmt.Fprintf(fs.Output(), "%s: expected %s\n", fs.Name(), argCount(minArgs, maxArgs))
		return errUsage
	}
	return nil
}

func argCount(minArgs, maxArgs int) string {
	if minArgs == maxArgs {
		return strconv.Itoa(minArgs) + " argument(s)"
	}
	return fmt.Sprintf("%d to %d arguments", minArgs, maxArgs)
}

func accountFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("account", "a", "", "account address (default: first configured)")
}

// account resolves the --account flag, defaulting to the first enabled
// account.
func (c *cli) account(ctx context.Context, address string) (*model.Account, error) {
	if address == "" {
		for _, ac := range c.svc.Config().Accounts {
			if ac.Enabled {
				address = ac.Address
				break
			}
		}
	}
	if address == "" {
		return nil, errors.New("no accounts configured")
	}
	return c.svc.Account(ctx, address)
}

func (c *cli) watch(ctx context.Context) error {
	p := tea.NewProgram(app.NewModel(ctx, c.svc), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *cli) sync(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	if err := parse(fs, args, 0, 1); err != nil {
		return err
	}

	if fs.NArg() == 1 {
		account, err := c.account(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		res, err := c.svc.SyncAccount(ctx, account)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: %d new of %d fetched, watermark %d (%s)\n",
			account.Address, res.Created, res.Fetched, res.Watermark, res.Duration.Round(time.Millisecond))
		return nil
	}

	results, err := c.svc.SyncAll(ctx)
	if err != nil {
		return err
	}
	var failed []error
	for _, r := range results {
		switch {
		case r.AuthError:
			fmt.Fprintf(c.out, "%s: sign in again with `mailbundle login %s`\n", r.Address, r.Address)
			failed = append(failed, r.Error)
		case r.Error != nil:
			fmt.Fprintf(c.out, "%s: %v\n", r.Address, r.Error)
			failed = append(failed, r.Error)
		default:
			fmt.Fprintf(c.out, "%s: %d new, watermark %d\n", r.Address, r.Result.Created, r.Result.Watermark)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d accounts failed to sync", len(failed), len(results))
	}
	return nil
}

func (c *cli) discover(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	address := accountFlag(fs)
	if err := parse(fs, args, 0, 0); err != nil {
		return err
	}

	account, err := c.account(ctx, *address)
	if err != nil {
		return err
	}
	bundles, err := c.svc.Discover(ctx, account)
	if err != nil {
		return err
	}
	names := make([]string, len(bundles))
	for i, b := range bundles {
		names[i] = b.Name
	}
	fmt.Fprintf(c.out, "%s: %s\n", account.Address, strings.Join(names, ", "))
	return nil
}

func (c *cli) bundles(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("bundles", pflag.ContinueOnError)
	address := accountFlag(fs)
	if err := parse(fs, args, 0, 0); err != nil {
		return err
	}

	account, err := c.account(ctx, *address)
	if err != nil {
		return err
	}
	summaries, err := c.svc.Store().BundleSummaries(ctx, account.ID)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorGray)).
		Headers("BUNDLE", "LABEL", "THREADS", "UNSEEN")
	for _, b := range summaries {
		name := b.Name
		if b.Icon != "" {
			name = b.Icon + " " + name
		}
		t.Row(name, b.LabelID, strconv.Itoa(b.ThreadCount), strconv.Itoa(b.UnseenCount))
	}
	fmt.Fprintln(c.out, t.Render())
	return nil
}

func (c *cli) newBundle(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("new-bundle", pflag.ContinueOnError)
	address := accountFlag(fs)
	icon := fs.String("icon", "", "short icon shown next to the bundle")
	if err := parse(fs, args, 0, 1); err != nil {
		return err
	}

	account, err := c.account(ctx, *address)
	if err != nil {
		return err
	}

	name := fs.Arg(0)
	if name == "" {
		if err := huh.NewForm(huh.NewGroup(form.BundleFields(&name, icon)...)).RunWithContext(ctx); err != nil {
			return err
		}
	}

	b, err := c.svc.CreateBundle(ctx, account, name, *icon)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "bundle %s (label %s)\n", b.Name, b.LabelID)
	return nil
}

func (c *cli) move(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("move", pflag.ContinueOnError)
	address := accountFlag(fs)
	alwaysFilter := fs.Bool("filter", false, "route future mail from the sender to the destination")
	if err := parse(fs, args, 3, 3); err != nil {
		return err
	}

	account, err := c.account(ctx, *address)
	if err != nil {
		return err
	}
	res, err := c.svc.MoveThread(ctx, account, fs.Arg(0), fs.Arg(1), fs.Arg(2), *alwaysFilter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "moved %s to %s\n", fs.Arg(0), fs.Arg(2))
	if res.FilterCreated != nil {
		fmt.Fprintf(c.out, "created filter %s for %s\n", res.FilterCreated.ID, res.FilterCreated.Criteria.From)
	}
	for _, id := range res.FiltersDeleted {
		fmt.Fprintf(c.out, "deleted filter %s\n", id)
	}
	if res.FilterErr != nil {
		fmt.Fprintf(c.out, "warning: filters not updated: %v\n", res.FilterErr)
	}
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	address := fs.Arg(0)

	url, err := c.svc.LoginURL(address)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Open this page and grant access for %s:\n\n  %s\n\n", address, url)

	var code string
	input := huh.NewInput().
		Title("Authorization code").
		Value(&code).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("code is required")
			}
			return nil
		})
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		return err
	}

	if err := c.svc.CompleteLogin(ctx, address, strings.TrimSpace(code)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s signed in\n", address)
	return nil
}
