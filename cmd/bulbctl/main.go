// bulbctl is an interactive console for one Bluetooth RGB bulb.
//
// It either connects to the bulb directly (RFCOMM socket or a bound TTY)
// or drives it through a running graylogic-bulb bridge over MQTT.
//
// Usage:
//
//	bulbctl -address C9:A3:05:11:22:33
//	bulbctl -address C9:A3:05:11:22:33 -serial /dev/rfcomm0
//	bulbctl -address C9:A3:05:11:22:33 -mqtt -config configs/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bulb/internal/bluetooth"
	"github.com/nerrad567/gray-logic-bulb/internal/bridges/bulb"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/mqtt"
)

var version = "dev"

// options holds the parsed command line.
type options struct {
	address    string
	useMQTT    bool
	configPath string
	adapter    string
	channels   string
	serialPort string
	serialBaud int
	timeout    time.Duration
	logLevel   string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("bulbctl", flag.ContinueOnError)
	fs.StringVar(&opts.address, "address", "", "Bulb Bluetooth address (or first argument)")
	fs.BoolVar(&opts.useMQTT, "mqtt", false, "Drive the bulb through the bridge over MQTT")
	fs.StringVar(&opts.configPath, "config", defaultConfigPath(), "Bridge configuration file (MQTT mode)")
	fs.StringVar(&opts.adapter, "adapter", "hci0", "BlueZ adapter for the SPP lookup")
	fs.StringVar(&opts.channels, "channels", "1,2,3", "RFCOMM channels to probe, comma separated")
	fs.StringVar(&opts.serialPort, "serial", "", "Bound TTY to use instead of an RFCOMM socket")
	fs.IntVar(&opts.serialBaud, "baud", 9600, "Serial baud rate")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-operation timeout")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.address == "" && fs.NArg() > 0 {
		opts.address = fs.Arg(0)
	}
	if opts.address == "" {
		return opts, fmt.Errorf("a bulb address is required")
	}

	addr, err := bluetooth.NormalizeAddress(opts.address)
	if err != nil {
		return opts, err
	}
	opts.address = addr
	return opts, nil
}

func defaultConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return "configs/config.yaml"
}

func run(ctx context.Context, opts options) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bulb> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	log := logging.NewWithWriter(rl.Stderr(), config.LoggingConfig{
		Level:  opts.logLevel,
		Format: "text",
	}, version)

	var ctrl Controller
	if opts.useMQTT {
		remote, closeFn, err := connectRemote(opts, log)
		if err != nil {
			return err
		}
		defer closeFn()
		ctrl = remote
	} else {
		conn, err := connectDirect(ctx, opts, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := conn.Disconnect(); err != nil {
				log.Warn("disconnect failed", "error", err)
			}
		}()
		ctrl = conn
	}

	NewConsole(ctrl, rl.Stdout(), opts.timeout).Run(ctx, rl)
	return nil
}

// connectDirect opens a session with the bulb and waits for the handshake.
func connectDirect(ctx context.Context, opts options, log *logging.Logger) (*bulb.Connection, error) {
	dialer, err := newDialer(opts, log)
	if err != nil {
		return nil, err
	}

	conn := bulb.NewConnection(opts.address, commandSource, dialer, bulb.ConnectionOptions{Logger: log})

	connectCtx, cancel := context.WithTimeout(ctx, 4*opts.timeout)
	defer cancel()
	if err := conn.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.address, err)
	}
	log.Info("connected", "address", opts.address, "power", conn.Power().String())
	return conn, nil
}

func newDialer(opts options, log *logging.Logger) (bulb.Dialer, error) {
	if opts.serialPort != "" {
		return bluetooth.NewSerialDialer(map[string]string{opts.address: opts.serialPort}, opts.serialBaud, time.Second), nil
	}

	channels, err := parseChannels(opts.channels)
	if err != nil {
		return nil, err
	}

	// Without BlueZ every channel is probed blind.
	var services bluetooth.ServiceLocator
	if bluez, err := bluetooth.NewBlueZ(opts.adapter); err != nil {
		log.Warn("BlueZ unavailable, skipping SPP lookup", "error", err)
	} else {
		services = bluez
	}
	return bluetooth.NewRFCOMMDialer(channels, services), nil
}

// connectRemote connects to the broker named in the bridge config.
func connectRemote(opts options, log *logging.Logger) (*remoteController, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	// The bridge owns the configured client ID.
	cfg.MQTT.Broker.ClientID = commandSource + "-" + uuid.NewString()[:8]

	client, err := mqtt.Connect(cfg.MQTT, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)

	remote, err := newRemoteController(client, opts.address)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	log.Info("connected to bridge", "broker", cfg.MQTT.Broker.Host, "address", opts.address)

	return remote, func() { _ = client.Close() }, nil
}

// parseChannels parses a comma separated RFCOMM channel list.
func parseChannels(list string) ([]uint8, error) {
	var channels []uint8
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ch, err := strconv.ParseUint(field, 10, 8)
		if err != nil || ch < 1 || ch > 30 {
			return nil, fmt.Errorf("invalid RFCOMM channel %q", field)
		}
		channels = append(channels, uint8(ch))
	}
	return channels, nil
}
