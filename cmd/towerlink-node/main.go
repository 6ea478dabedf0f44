// Command towerlink-node runs a field node's pairing engine over the UDP
// development radio.
//
// The node starts unpaired (or bound, if it finds saved credentials) and
// is driven from an interactive console: `pair` begins advertising,
// `cancel` aborts an attempt, `reset` wipes the binding.
//
// Usage:
//
//	towerlink-node [flags]
//
// Flags:
//
//	-addr string     Hardware address (AA:BB:CC:DD:EE:FF, random if empty)
//	-config string   YAML configuration file path
//	-type string     Device type: tower, sensor, light (default "tower")
//	-port int        UDP listen port (0 = ephemeral)
//	-creds string    Credentials file path (default "node-credentials.json")
//	-protocol-log string  Protocol event log path (.tlog)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start a tower node with a fixed address
//	towerlink-node -addr 02:00:00:00:00:01 -type tower
//
//	# Start a sensor node from a config file, tracing the protocol
//	towerlink-node -config sensor.yaml -protocol-log node.tlog
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/towerlink-protocol/towerlink-go/pkg/log"
	"github.com/towerlink-protocol/towerlink-go/pkg/pairing"
	"github.com/towerlink-protocol/towerlink-go/pkg/persistence"
	"github.com/towerlink-protocol/towerlink-go/pkg/radio"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// tickInterval is how often the engine's clock is pumped.
const tickInterval = 20 * time.Millisecond

// Config holds the node configuration, loadable from YAML and overridable
// by flags.
type Config struct {
	Addr        string `yaml:"addr"`
	Type        string `yaml:"type"`
	Port        int    `yaml:"port"`
	CredsPath   string `yaml:"credentials"`
	ProtocolLog string `yaml:"protocol_log"`
	LogLevel    string `yaml:"log_level"`
}

func main() {
	var cfg Config
	var configFile string
	flag.StringVar(&cfg.Addr, "addr", "", "Hardware address (AA:BB:CC:DD:EE:FF, random if empty)")
	flag.StringVar(&configFile, "config", "", "YAML configuration file path")
	flag.StringVar(&cfg.Type, "type", "tower", "Device type: tower, sensor, light")
	flag.IntVar(&cfg.Port, "port", 0, "UDP listen port (0 = ephemeral)")
	flag.StringVar(&cfg.CredsPath, "creds", "node-credentials.json", "Credentials file path")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Protocol event log path (.tlog)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if configFile != "" {
		if err := loadConfig(configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "towerlink-node: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges a YAML file into cfg. File values win over flag
// defaults but explicit flags set after loading would need re-parsing, so
// the file is authoritative for any key it sets.
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func run(cfg Config) error {
	addr, err := nodeAddr(cfg.Addr)
	if err != nil {
		return err
	}
	deviceType, caps, err := deviceProfile(cfg.Type)
	if err != nil {
		return err
	}

	console, err := newConsole("node> ")
	if err != nil {
		return err
	}
	defer console.Close()

	logger := slog.New(slog.NewTextHandler(console.Stdout(), &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	var plog log.Logger = log.NoopLogger{}
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("opening protocol log: %w", err)
		}
		defer fl.Close()
		plog = fl
	}

	transport, err := radio.NewUDPTransport(radio.UDPConfig{
		Addr:   addr,
		Port:   cfg.Port,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	engine := pairing.NewEngine(pairing.Identity{
		Addr:         addr,
		DeviceType:   deviceType,
		Firmware:     wire.PackFirmware(1, 0, 0),
		Capabilities: caps,
	}, pairing.Config{
		Store:       persistence.NewFileStore(cfg.CredsPath),
		Transport:   transport,
		Completion:  consoleSink{console},
		Logger:      logger,
		ProtocolLog: plog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The engine is single-threaded: frames, console commands and ticks
	// all funnel into the loop below.
	frames := make(chan inboundFrame, 64)
	transport.SetReceiveFunc(func(src wire.HWAddr, payload []byte, rssi int) {
		select {
		case frames <- inboundFrame{src: src, payload: payload}:
		default:
			logger.Warn("frame queue full, dropping", "src", src.String())
		}
	})

	cmds := make(chan func(now time.Time), 8)
	go runLoop(ctx, engine, frames, cmds)

	go console.Run(ctx, cancel, nodeCommands(engine, cmds, console, cancel))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("node up", "addr", addr.String(), "type", deviceType.String())

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}
	return nil
}

type inboundFrame struct {
	src     wire.HWAddr
	payload []byte
}

// runLoop pumps the engine. Everything that touches it happens here.
func runLoop(ctx context.Context, engine *pairing.Engine, frames <-chan inboundFrame, cmds <-chan func(now time.Time)) {
	engine.Initialize(time.Now())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			engine.HandleFrame(time.Now(), f.src, f.payload)
		case fn := <-cmds:
			fn(time.Now())
		case now := <-ticker.C:
			engine.Tick(now)
		}
	}
}

// consoleSink reports pairing outcomes on the console.
type consoleSink struct {
	console *console
}

func (s consoleSink) PairingComplete(result pairing.Result, bindingID uint16) {
	if result == pairing.ResultSuccess {
		s.console.Printf("pairing complete: binding %d\n", bindingID)
		return
	}
	s.console.Printf("pairing finished: %s\n", result)
}

func nodeAddr(s string) (wire.HWAddr, error) {
	if s != "" {
		return wire.ParseHWAddr(s)
	}
	var addr wire.HWAddr
	if _, err := rand.Read(addr[:]); err != nil {
		return addr, fmt.Errorf("generating address: %w", err)
	}
	// Locally administered unicast address.
	addr[0] = addr[0]&0xFE | 0x02
	return addr, nil
}

func deviceProfile(s string) (wire.DeviceType, wire.Capability, error) {
	switch s {
	case "tower":
		return wire.DeviceTower, wire.CapClimateSensor | wire.CapPumpRelay | wire.CapGrowLight, nil
	case "sensor":
		return wire.DeviceSensor, wire.CapClimateSensor | wire.CapBattery | wire.CapDeepSleep, nil
	case "light":
		return wire.DeviceLightNode, wire.CapRGBWLED | wire.CapLightSensor, nil
	default:
		return 0, 0, fmt.Errorf("unknown device type %q (want tower, sensor or light)", s)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
