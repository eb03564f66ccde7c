package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/filerelay/internal/client/config"
	"github.com/dmitrijs2005/filerelay/internal/client/relayclient"
)

var ErrUsage = errors.New("usage error")

type App struct {
	config *config.Config
	client *relayclient.Client
	in     *bufio.Reader
	out    io.Writer
	// interactive enables accept prompts on receive.
	interactive bool
}

func NewApp(c *config.Config) (*App, error) {
	if c.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token required (-t or FILERELAY_TOKEN)", ErrUsage)
	}

	rc, err := relayclient.New(c.ServerEndpointAddr, c.AccessToken, relayclient.Options{HTTPBaseURL: c.HTTPBaseURL})
	if err != nil {
		return nil, err
	}

	return newApp(c, rc, os.Stdin, os.Stdout, isTerminal(int(os.Stdin.Fd()))), nil
}

func newApp(c *config.Config, rc *relayclient.Client, in io.Reader, out io.Writer, interactive bool) *App {
	return &App{config: c, client: rc, in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (a *App) Close() error {
	return a.client.Close()
}

// Run executes the command in args (positional arguments only).
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.help()
		return ErrUsage
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.TransferTimeout)
	defer cancel()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "send":
		if len(rest) != 2 {
			return fmt.Errorf("%w: send <recipient> <file>", ErrUsage)
		}
		return a.Send(ctx, rest[0], rest[1])
	case "receive":
		dir := "."
		if len(rest) > 0 {
			dir = rest[0]
		}
		return a.Receive(ctx, dir)
	case "upload":
		if len(rest) != 1 {
			return fmt.Errorf("%w: upload <file>", ErrUsage)
		}
		return a.Upload(ctx, rest[0])
	case "record":
		if len(rest) != 3 {
			return fmt.Errorf("%w: record <recipient> <handle> <file>", ErrUsage)
		}
		return a.Record(ctx, rest[0], rest[1], rest[2])
	case "download":
		if len(rest) != 2 {
			return fmt.Errorf("%w: download <transferId> <file>", ErrUsage)
		}
		return a.Download(ctx, rest[0], rest[1])
	case "help":
		a.help()
		return nil
	default:
		a.help()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) help() {
	fmt.Fprintln(a.out, "Available commands: send <recipient> <file>, receive [dir], upload <file>, record <recipient> <handle> <file>, download <transferId> <file>")
}
