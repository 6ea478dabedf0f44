// Command towerlink-log prints protocol event logs (.tlog files) written
// by the pairing engines.
//
// Usage:
//
//	towerlink-log [flags] <file.tlog>
//
// Flags:
//
//	-category string  Only show events of this category (message, state, drop, window, completion)
//	-peer string      Only show events involving this peer address
//	-json             Emit events as JSON lines instead of text
//
// Examples:
//
//	# Show everything
//	towerlink-log node.tlog
//
//	# Only dropped frames, as JSON
//	towerlink-log -category drop -json coordinator.tlog
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/log"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

func main() {
	var (
		category = flag.String("category", "", "Only show events of this category")
		peer     = flag.String("peer", "", "Only show events involving this peer address")
		asJSON   = flag.Bool("json", false, "Emit events as JSON lines")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: towerlink-log [flags] <file.tlog>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	events, err := log.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "towerlink-log: %v\n", err)
		os.Exit(1)
	}

	for _, ev := range events {
		if *category != "" && !strings.EqualFold(ev.Category.String(), *category) {
			continue
		}
		if *peer != "" && !strings.EqualFold(ev.Peer, *peer) {
			continue
		}
		if *asJSON {
			printJSON(ev)
		} else {
			fmt.Println(formatEvent(ev))
		}
	}
}

func printJSON(ev Event) {
	data, err := json.Marshal(jsonEvent(ev))
	if err != nil {
		fmt.Fprintf(os.Stderr, "towerlink-log: encoding event: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// Event aliases the log package's event for local helpers.
type Event = log.Event

func jsonEvent(ev Event) map[string]interface{} {
	out := map[string]interface{}{
		"time":     ev.Timestamp.Format(time.RFC3339Nano),
		"role":     ev.Role.String(),
		"category": ev.Category.String(),
	}
	if ev.Category == log.CategoryMessage || ev.Category == log.CategoryDrop {
		out["direction"] = ev.Direction.String()
		out["msg_type"] = wire.MessageTypeName(ev.MsgType)
	}
	if ev.Peer != "" {
		out["peer"] = ev.Peer
	}
	if ev.OldState != "" || ev.NewState != "" {
		out["old_state"] = ev.OldState
		out["new_state"] = ev.NewState
	}
	if ev.Reason != "" {
		out["reason"] = ev.Reason
	}
	if ev.Detail != "" {
		out["detail"] = ev.Detail
	}
	return out
}

func formatEvent(ev Event) string {
	ts := ev.Timestamp.Format("15:04:05.000")
	role := ev.Role.String()

	switch ev.Category {
	case log.CategoryMessage:
		arrow := "<-"
		if ev.Direction == log.DirectionOut {
			arrow = "->"
		}
		peer := ev.Peer
		if peer == "" {
			peer = "*"
		}
		return fmt.Sprintf("%s %-11s %s %s %s",
			ts, role, arrow, wire.MessageTypeName(ev.MsgType), peer)

	case log.CategoryState:
		subject := ev.Peer
		if subject == "" {
			subject = "engine"
		}
		return fmt.Sprintf("%s %-11s STATE %s: %s -> %s (%s)",
			ts, role, subject, ev.OldState, ev.NewState, ev.Reason)

	case log.CategoryDrop:
		return fmt.Sprintf("%s %-11s DROP %s from %s: %s",
			ts, role, wire.MessageTypeName(ev.MsgType), ev.Peer, ev.Detail)

	case log.CategoryWindow:
		return fmt.Sprintf("%s %-11s WINDOW %s (%s)", ts, role, ev.Detail, ev.Reason)

	case log.CategoryCompletion:
		peer := ev.Peer
		if peer == "" {
			peer = "self"
		}
		return fmt.Sprintf("%s %-11s DONE %s: %s", ts, role, peer, ev.Reason)

	default:
		return fmt.Sprintf("%s %-11s %s", ts, role, ev.Category)
	}
}
