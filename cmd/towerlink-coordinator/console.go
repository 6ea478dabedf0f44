package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/towerlink-protocol/towerlink-go/pkg/discovery"
	"github.com/towerlink-protocol/towerlink-go/pkg/registry"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
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

// coordinatorCommands builds the coordinator console command handler.
// Engine calls are marshalled onto the run loop through cmds.
func coordinatorCommands(engine *discovery.Engine, reg *registry.Registry, cmds chan<- func(now time.Time), c *console, cancel context.CancelFunc) handlerFunc {
	help := func() {
		c.Printf(`Coordinator commands:
  permit [seconds]  - open the permit-join window (default 60s, max 300s)
  close             - close the window now
  list              - show discovered nodes
  nodes             - show bound nodes from the registry
  approve <mac>     - send an offer to a discovered node
  reject <mac>      - turn a node away
  forget <mac>      - drop a node from the discovery table
  remove <mac>      - delete a node's binding from the registry
  status            - show window and table state
  help              - this text
  quit              - exit
`)
	}

	parseAddr := func(args []string) (wire.HWAddr, bool) {
		if len(args) != 1 {
			c.Printf("usage: <command> <mac>\n")
			return wire.HWAddr{}, false
		}
		addr, err := wire.ParseHWAddr(args[0])
		if err != nil {
			c.Printf("%v\n", err)
			return wire.HWAddr{}, false
		}
		return addr, true
	}

	return func(cmd string, args []string) {
		switch cmd {
		case "help", "?":
			help()

		case "permit", "pj":
			var d time.Duration
			if len(args) == 1 {
				secs, err := strconv.Atoi(args[0])
				if err != nil || secs <= 0 {
					c.Printf("usage: permit [seconds]\n")
					return
				}
				d = time.Duration(secs) * time.Second
			}
			cmds <- func(now time.Time) {
				applied := engine.PermitJoin(now, d)
				c.Printf("permit-join open for %s\n", applied)
			}

		case "close":
			cmds <- func(now time.Time) {
				engine.ClosePermitJoin(now)
			}

		case "list", "l":
			cmds <- func(now time.Time) {
				entries := engine.Entries()
				if len(entries) == 0 {
					c.Printf("no discovered nodes\n")
					return
				}
				for _, e := range entries {
					c.Printf("%s  %-10s fw %-8s rssi %-4d last seen %s ago  %s\n",
						e.Addr, e.DeviceType, e.Firmware, e.RSSI,
						now.Sub(e.LastSeen).Round(time.Second), e.State)
				}
			}

		case "nodes", "n":
			records := reg.List()
			if len(records) == 0 {
				c.Printf("no bound nodes\n")
				return
			}
			for _, r := range records {
				c.Printf("%s  binding %-5d %-10s fw %-8s bound %s\n",
					r.Addr, r.BindingID, r.DeviceType, r.Firmware,
					r.BoundAt.Format(time.RFC3339))
			}

		case "approve", "a":
			addr, ok := parseAddr(args)
			if !ok {
				return
			}
			cmds <- func(now time.Time) {
				if err := engine.BeginOffer(now, addr); err != nil {
					c.Printf("approve failed: %v\n", err)
				} else {
					c.Printf("offer sent to %s\n", addr)
				}
			}

		case "reject", "r":
			addr, ok := parseAddr(args)
			if !ok {
				return
			}
			cmds <- func(now time.Time) {
				if err := engine.RejectEntry(addr, wire.ReasonUserRejected); err != nil {
					c.Printf("reject failed: %v\n", err)
				}
			}

		case "forget", "f":
			addr, ok := parseAddr(args)
			if !ok {
				return
			}
			cmds <- func(now time.Time) {
				if !engine.Forget(addr) {
					c.Printf("no such entry\n")
				}
			}

		case "remove":
			addr, ok := parseAddr(args)
			if !ok {
				return
			}
			removed, err := reg.Remove(addr)
			switch {
			case err != nil:
				c.Printf("remove failed: %v\n", err)
			case !removed:
				c.Printf("no binding for %s\n", addr)
			default:
				c.Printf("binding removed\n")
				cmds <- func(now time.Time) { engine.Forget(addr) }
			}

		case "status", "s":
			cmds <- func(now time.Time) {
				if engine.PermitJoinOpen(now) {
					c.Printf("permit-join: open, %s remaining\n",
						engine.PermitJoinRemaining(now).Round(time.Second))
				} else {
					c.Printf("permit-join: closed\n")
				}
				c.Printf("discovered:  %d\n", len(engine.Entries()))
				c.Printf("bound:       %d\n", reg.Len())
			}

		case "quit", "exit", "q":
			c.Printf("Exiting...\n")
			cancel()

		default:
			c.Printf("unknown command %q (try 'help')\n", cmd)
		}
	}
}
