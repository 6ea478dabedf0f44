package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/towerlink-protocol/towerlink-go/pkg/pairing"
)

// console wraps readline so log output and the prompt don't fight over the
// terminal.
type console struct {
	rl *readline.Instance
}

func newConsole(prompt string) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{rl: rl}, nil
}

// Stdout returns a writer coordinated with the prompt.
func (c *console) Stdout() io.Writer {
	return c.rl.Stdout()
}

func (c *console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.rl.Stdout(), format, args...)
}

func (c *console) Close() error {
	return c.rl.Close()
}

// handlerFunc processes one console command line.
type handlerFunc func(cmd string, args []string)

// Run reads commands until EOF or cancellation.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc, handle handlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		handle(strings.ToLower(parts[0]), parts[1:])
	}
}

// nodeCommands builds the node console command handler. Engine calls are
// marshalled onto the run loop through cmds; reads of plain accessors are
// safe enough for display purposes.
func nodeCommands(engine *pairing.Engine, cmds chan<- func(now time.Time), c *console, cancel context.CancelFunc) handlerFunc {
	help := func() {
		c.Printf(`Node commands:
  pair          - start advertising for a coordinator
  cancel        - cancel the pairing attempt in progress
  status        - show pairing state
  reset         - erase the binding and return to unpaired
  operational   - move a bound node into operational mode
  help          - this text
  quit          - exit
`)
	}

	return func(cmd string, args []string) {
		switch cmd {
		case "help", "?":
			help()

		case "pair", "p":
			cmds <- func(now time.Time) {
				if engine.StartAdvertising(now) {
					c.Printf("advertising (up to %s)\n", engine.AdvertisingRemaining(now).Round(time.Second))
				} else {
					c.Printf("cannot pair from state %s\n", engine.State())
				}
			}

		case "cancel":
			cmds <- func(now time.Time) {
				if !engine.CancelPairing(now) {
					c.Printf("no pairing in progress\n")
				}
			}

		case "status", "s":
			cmds <- func(now time.Time) {
				c.Printf("state:   %s\n", engine.State())
				if engine.IsBound() {
					c.Printf("binding: %d\n", engine.BindingID())
				}
				if engine.State() == pairing.StateAdvertising {
					c.Printf("timeout: %s\n", engine.AdvertisingRemaining(now).Round(time.Second))
				}
			}

		case "reset":
			cmds <- func(now time.Time) {
				engine.Reset()
				c.Printf("binding erased\n")
			}

		case "operational", "op":
			cmds <- func(now time.Time) {
				engine.EnterOperational()
				c.Printf("state: %s\n", engine.State())
			}

		case "quit", "exit", "q":
			c.Printf("Exiting...\n")
			cancel()

		default:
			c.Printf("unknown command %q (try 'help')\n", cmd)
		}
	}
}
