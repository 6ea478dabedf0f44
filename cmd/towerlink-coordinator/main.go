// Command towerlink-coordinator runs the coordinator's discovery and
// binding engine over the UDP development radio.
//
// Nodes that advertise while the permit-join window is open show up in
// `list`; the operator binds them with `approve` or turns them away with
// `reject`. Completed bindings are persisted in the registry file.
//
// Usage:
//
//	towerlink-coordinator [flags]
//
// Flags:
//
//	-addr string      Hardware address (AA:BB:CC:DD:EE:FF, random if empty)
//	-config string    YAML configuration file path
//	-id int           Coordinator identifier (default 1)
//	-farm int         Farm identifier (default 1)
//	-channel int      Fixed radio channel to assign to nodes (0 = none)
//	-port int         UDP listen port (0 = ephemeral)
//	-registry string  Registry file path (default "coordinator-registry.json")
//	-secret string    Master secret for link key derivation (hex, empty = no link keys)
//	-protocol-log string  Protocol event log path (.tlog)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Run with link keys derived from a master secret
//	towerlink-coordinator -addr 02:00:00:00:00:F0 -secret 000102030405060708090a0b0c0d0e0f
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/towerlink-protocol/towerlink-go/pkg/discovery"
	"github.com/towerlink-protocol/towerlink-go/pkg/log"
	"github.com/towerlink-protocol/towerlink-go/pkg/radio"
	"github.com/towerlink-protocol/towerlink-go/pkg/registry"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// tickInterval is how often the engine's clock is pumped.
const tickInterval = 20 * time.Millisecond

// Config holds the coordinator configuration, loadable from YAML.
type Config struct {
	Addr         string `yaml:"addr"`
	ID           int    `yaml:"id"`
	Farm         int    `yaml:"farm"`
	Channel      int    `yaml:"channel"`
	Port         int    `yaml:"port"`
	RegistryPath string `yaml:"registry"`
	Secret       string `yaml:"secret"`
	ProtocolLog  string `yaml:"protocol_log"`
	LogLevel     string `yaml:"log_level"`
}

func main() {
	var cfg Config
	var configFile string
	flag.StringVar(&cfg.Addr, "addr", "", "Hardware address (AA:BB:CC:DD:EE:FF, random if empty)")
	flag.StringVar(&configFile, "config", "", "YAML configuration file path")
	flag.IntVar(&cfg.ID, "id", 1, "Coordinator identifier")
	flag.IntVar(&cfg.Farm, "farm", 1, "Farm identifier")
	flag.IntVar(&cfg.Channel, "channel", 0, "Fixed radio channel to assign to nodes (0 = none)")
	flag.IntVar(&cfg.Port, "port", 0, "UDP listen port (0 = ephemeral)")
	flag.StringVar(&cfg.RegistryPath, "registry", "coordinator-registry.json", "Registry file path")
	flag.StringVar(&cfg.Secret, "secret", "", "Master secret for link key derivation (hex)")
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
		fmt.Fprintf(os.Stderr, "towerlink-coordinator: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func run(cfg Config) error {
	addr, err := coordAddr(cfg.Addr)
	if err != nil {
		return err
	}

	console, err := newConsole("coordinator> ")
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

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return err
	}

	var keys discovery.KeyDeriver
	if cfg.Secret != "" {
		secret, err := hex.DecodeString(cfg.Secret)
		if err != nil {
			return fmt.Errorf("decoding master secret: %w", err)
		}
		deriver, err := discovery.NewHKDFKeyDeriver(secret, nil)
		if err != nil {
			return err
		}
		keys = deriver
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

	engine := discovery.NewEngine(discovery.CoordinatorIdentity{
		Addr:          addr,
		CoordinatorID: uint16(cfg.ID),
		FarmID:        uint16(cfg.Farm),
		Channel:       uint8(cfg.Channel),
	}, discovery.Config{
		Transport:   transport,
		Registry:    reg,
		Keys:        keys,
		Logger:      logger,
		ProtocolLog: plog,
		Events:      consoleEvents(console),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan inboundFrame, 64)
	transport.SetReceiveFunc(func(src wire.HWAddr, payload []byte, rssi int) {
		select {
		case frames <- inboundFrame{src: src, payload: payload, rssi: rssi}:
		default:
			logger.Warn("frame queue full, dropping", "src", src.String())
		}
	})

	cmds := make(chan func(now time.Time), 8)
	go runLoop(ctx, engine, frames, cmds)

	go console.Run(ctx, cancel, coordinatorCommands(engine, reg, cmds, console, cancel))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("coordinator up", "addr", addr.String(),
		"id", cfg.ID, "farm", cfg.Farm, "bound_nodes", reg.Len())

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
	rssi    int
}

// runLoop pumps the engine. Everything that touches it happens here.
func runLoop(ctx context.Context, engine *discovery.Engine, frames <-chan inboundFrame, cmds <-chan func(now time.Time)) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			engine.HandleFrame(time.Now(), f.src, f.payload, f.rssi)
		case fn := <-cmds:
			fn(time.Now())
		case now := <-ticker.C:
			engine.Tick(now)
		}
	}
}

// consoleEvents surfaces the interesting engine events on the console.
func consoleEvents(c *console) discovery.EventFunc {
	return func(ev discovery.Event) {
		switch ev.Kind {
		case discovery.EventDiscovered:
			c.Printf("discovered %s (%s, fw %s, rssi %d)\n",
				ev.Entry.Addr, ev.Entry.DeviceType, ev.Entry.Firmware, ev.Entry.RSSI)
		case discovery.EventBound:
			c.Printf("bound %s as binding %d\n", ev.Entry.Addr, ev.Entry.BindingID)
		case discovery.EventWindowClosed:
			c.Printf("permit-join window closed\n")
		}
	}
}

func coordAddr(s string) (wire.HWAddr, error) {
	if s != "" {
		return wire.ParseHWAddr(s)
	}
	var addr wire.HWAddr
	if _, err := rand.Read(addr[:]); err != nil {
		return addr, fmt.Errorf("generating address: %w", err)
	}
	addr[0] = addr[0]&0xFE | 0x02
	return addr, nil
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
