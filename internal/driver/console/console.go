// Package console implements the stdin driver: each input line goes to
// the console adapter and comes back as a command event.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/projectcoral/coral/internal/adapter"
	"github.com/projectcoral/coral/internal/bus"
)

// Driver reads lines from an input stream and publishes the events the
// console adapter makes of them.
type Driver struct {
	selfID  string
	prompt  string
	in      io.Reader
	out     io.Writer
	adapter adapter.Adapter
	bots    *adapter.Manager
	bus     *bus.EventBus
}

// New creates a console driver. Nil in/out default to stdin/stdout.
func New(selfID, prompt string, in io.Reader, out io.Writer, a adapter.Adapter, bots *adapter.Manager, b *bus.EventBus) *Driver {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Driver{
		selfID:  selfID,
		prompt:  prompt,
		in:      in,
		out:     out,
		adapter: a,
		bots:    bots,
		bus:     b,
	}
}

func (d *Driver) Name() string     { return "console" }
func (d *Driver) Protocol() string { return d.adapter.Protocol() }

// Start reads lines until EOF or ctx is done. EOF is a normal exit,
// not a restart condition.
func (d *Driver) Start(ctx context.Context) error {
	d.bots.CreateBot(d.Protocol(), d.selfID, d.adapter, nil)
	defer d.bots.RemoveBot(d.Protocol(), d.selfID)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(d.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if d.prompt != "" {
			fmt.Fprint(d.out, d.prompt)
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}
				slog.Info("console input closed")
				<-ctx.Done()
				return nil
			}
			ev, err := d.adapter.HandleIncoming(ctx, []byte(line))
			if err != nil {
				slog.Warn("unparseable console line", "error", err)
				continue
			}
			if ev != nil {
				d.bus.Publish(ctx, ev)
			}
		}
	}
}

// Stop is a no-op: the read loop ends with its context.
func (d *Driver) Stop(ctx context.Context) error { return nil }
