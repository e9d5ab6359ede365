package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/gray-logic-bulb/internal/bridges/bulb"
)

// Colour temperature range covered by the 0-9 keys.
const (
	minKeyKelvin = 1500
	maxKeyKelvin = 6600
)

// hueStep is the hue change per [ or ] key, in degrees.
const hueStep = 5

// Controller drives one bulb. *bulb.Connection implements it directly;
// remoteController implements it over MQTT.
type Controller interface {
	SetPower(ctx context.Context, on bool) error
	SetColorMode(ctx context.Context, color bool) error
	SetBrightness(ctx context.Context, level int) error
	SetColorRGB(ctx context.Context, color bulb.RGB) error
	SetColorHSV(ctx context.Context, hue float64, level int) error
	SetWhiteTemperature(ctx context.Context, kelvin, level int) error
	SetPartyMode(ctx context.Context, mode int) error
	Snapshot() bulb.Snapshot
}

// identifier is implemented by controllers that can read the raw
// identification and vendor payloads.
type identifier interface {
	ReadIdentification(ctx context.Context) ([]byte, error)
	ReadVendorInfo(ctx context.Context) ([]byte, error)
}

// lineReader is the part of *readline.Instance the console loop uses.
type lineReader interface {
	Readline() (string, error)
}

// Console maps keys and short commands onto a Controller.
type Console struct {
	ctrl    Controller
	out     io.Writer
	timeout time.Duration
}

// NewConsole returns a console writing feedback to out. timeout bounds
// each operation; zero means no bound.
func NewConsole(ctrl Controller, out io.Writer, timeout time.Duration) *Console {
	return &Console{ctrl: ctrl, out: out, timeout: timeout}
}

// Run reads lines until q, EOF or ctx is done. Interrupts clear the line.
func (c *Console) Run(ctx context.Context, rl lineReader) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}

		quit, err := c.Handle(ctx, line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// Handle executes one input line. A line starting with a command word runs
// that command; otherwise every character is applied as a key in turn and
// the first failing key stops the line.
func (c *Console) Handle(ctx context.Context, line string) (quit bool, err error) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false, nil
	}

	parts := strings.Fields(input)
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case "help", "?":
		c.printHelp()
		return false, nil
	case "quit", "exit":
		return true, nil
	case "party":
		return false, c.cmdParty(ctx, args)
	case "rgb":
		return false, c.cmdRGB(ctx, args)
	case "status", "s":
		c.printStatus()
		return false, nil
	case "info":
		return false, c.cmdInfo(ctx)
	}

	for _, key := range strings.ReplaceAll(input, " ", "") {
		if key == 'q' {
			return true, nil
		}
		if err := c.Key(ctx, key); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Key applies a single keypress.
func (c *Console) Key(ctx context.Context, key rune) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	snap := c.ctrl.Snapshot()

	switch {
	case key == 'p':
		return c.ctrl.SetPower(ctx, snap.Power != bulb.PowerOn)
	case key == 'w':
		return c.ctrl.SetColorMode(ctx, false)
	case key == 'c':
		return c.ctrl.SetColorMode(ctx, true)
	case key == '-':
		return c.ctrl.SetBrightness(ctx, max(bulb.MinBrightness, snap.Brightness-1))
	case key == '+' || key == '=':
		return c.ctrl.SetBrightness(ctx, min(bulb.MaxBrightness, snap.Brightness+1))
	case key == '[':
		return c.ctrl.SetColorHSV(ctx, stepHue(snap, -hueStep), currentLevel(snap))
	case key == ']':
		return c.ctrl.SetColorHSV(ctx, stepHue(snap, hueStep), currentLevel(snap))
	case key >= '0' && key <= '9':
		return c.ctrl.SetWhiteTemperature(ctx, keyKelvin(int(key-'0')), currentLevel(snap))
	default:
		return fmt.Errorf("unknown key %q (type 'help' for keys)", key)
	}
}

func (c *Console) cmdParty(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: party <0-%d>", bulb.MaxPartyMode)
	}
	mode, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("party mode %q is not a number", args[0])
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()
	return c.ctrl.SetPartyMode(ctx, mode)
}

func (c *Console) cmdRGB(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: rgb <r> <g> <b>")
	}
	var ch [3]uint8
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return fmt.Errorf("channel %q must be 0-255", arg)
		}
		ch[i] = uint8(v)
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()
	return c.ctrl.SetColorRGB(ctx, bulb.RGB{R: ch[0], G: ch[1], B: ch[2]})
}

func (c *Console) cmdInfo(ctx context.Context) error {
	id, ok := c.ctrl.(identifier)
	if !ok {
		return errors.New("info needs a direct connection")
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	ident, err := id.ReadIdentification(ctx)
	if err != nil {
		return fmt.Errorf("reading identification: %w", err)
	}
	vendor, err := id.ReadVendorInfo(ctx)
	if err != nil {
		return fmt.Errorf("reading vendor info: %w", err)
	}

	fmt.Fprintf(c.out, "identification: %s\n", hex.EncodeToString(ident))
	fmt.Fprintf(c.out, "vendor info:    %s\n", hex.EncodeToString(vendor))
	return nil
}

func (c *Console) printStatus() {
	snap := c.ctrl.Snapshot()
	fmt.Fprintf(c.out, "address:    %s\n", snap.Address)
	fmt.Fprintf(c.out, "connection: %s\n", snap.State)
	fmt.Fprintf(c.out, "power:      %s\n", snap.Power)
	fmt.Fprintf(c.out, "mode:       %s\n", snap.Mode)
	fmt.Fprintf(c.out, "brightness: %d/%d\n", snap.Brightness, bulb.MaxBrightness)
	if snap.Mode == bulb.ModeColor {
		fmt.Fprintf(c.out, "color:      %s (hue %.0f)\n", snap.Color, bulb.RGBToHSV(snap.Color).Hue)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintf(c.out, `
Keys (several per line are applied in order):
  p      Toggle power
  w, c   White or color mode
  -, +   Decrement or increment brightness
  [, ]   Decrement or increment hue by %d degrees
  0-9    Set color temperature from %dK to %dK
  q      Quit

Commands:
  party <0-%d>     Start a built-in animation
  rgb <r> <g> <b>  Set an RGB color
  status           Show cached state
  info             Read identification and vendor info
  help             Show this help
`, hueStep, minKeyKelvin, maxKeyKelvin, bulb.MaxPartyMode)
}

func (c *Console) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// keyKelvin spreads the ten digit keys evenly over the key range.
func keyKelvin(digit int) int {
	step := float64(maxKeyKelvin-minKeyKelvin) / 9
	return minKeyKelvin + int(math.Round(float64(digit)*step))
}

// stepHue returns the cached hue moved by delta, wrapped into [0, 360).
func stepHue(snap bulb.Snapshot, delta float64) float64 {
	hue := bulb.RGBToHSV(snap.Color).Hue + delta
	switch {
	case hue < 0:
		hue += 360
	case hue >= 360:
		hue -= 360
	}
	return hue
}

// currentLevel is the cached brightness, or full when unknown.
func currentLevel(snap bulb.Snapshot) int {
	if snap.Brightness >= bulb.MinBrightness {
		return snap.Brightness
	}
	return bulb.MaxBrightness
}
