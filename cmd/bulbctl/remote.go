package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bulb/internal/bridges/bulb"
	"github.com/nerrad567/gray-logic-bulb/internal/infrastructure/mqtt"
)

// commandSource tags every command this tool publishes.
const commandSource = "bulbctl"

// broker is the part of *mqtt.Client the remote controller uses.
type broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// remoteController drives a bulb through a running bridge. Each command
// waits for the matching ack; state comes from the retained state topic.
type remoteController struct {
	broker  broker
	address string

	mu      sync.Mutex
	snap    bulb.Snapshot
	pending map[string]chan bulb.AckMessage
}

// newRemoteController subscribes to the bulb's state and ack topics.
func newRemoteController(b broker, address string) (*remoteController, error) {
	r := &remoteController{
		broker:  b,
		address: address,
		snap:    bulb.Snapshot{Address: address},
		pending: make(map[string]chan bulb.AckMessage),
	}

	if err := b.Subscribe(bulb.StateTopic(address), 1, r.handleState); err != nil {
		return nil, fmt.Errorf("subscribe to state: %w", err)
	}
	if err := b.Subscribe(bulb.AckTopic(address), 1, r.handleAck); err != nil {
		return nil, fmt.Errorf("subscribe to acks: %w", err)
	}
	return r, nil
}

func (r *remoteController) SetPower(ctx context.Context, on bool) error {
	if on {
		return r.send(ctx, bulb.CommandOn, nil)
	}
	return r.send(ctx, bulb.CommandOff, nil)
}

func (r *remoteController) SetColorMode(ctx context.Context, color bool) error {
	if color {
		return r.send(ctx, bulb.CommandColor, nil)
	}
	return r.send(ctx, bulb.CommandWhite, nil)
}

func (r *remoteController) SetBrightness(ctx context.Context, level int) error {
	return r.send(ctx, bulb.CommandBrightness, map[string]any{"level": level})
}

func (r *remoteController) SetColorRGB(ctx context.Context, color bulb.RGB) error {
	return r.send(ctx, bulb.CommandRGB, map[string]any{"r": color.R, "g": color.G, "b": color.B})
}

func (r *remoteController) SetColorHSV(ctx context.Context, hue float64, level int) error {
	return r.send(ctx, bulb.CommandHSV, map[string]any{"hue": hue, "level": level})
}

func (r *remoteController) SetWhiteTemperature(ctx context.Context, kelvin, level int) error {
	return r.send(ctx, bulb.CommandTemperature, map[string]any{"kelvin": kelvin, "level": level})
}

func (r *remoteController) SetPartyMode(ctx context.Context, mode int) error {
	return r.send(ctx, bulb.CommandParty, map[string]any{"mode": mode})
}

// Snapshot returns the state last published by the bridge.
func (r *remoteController) Snapshot() bulb.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// errNoAck is returned when ctx ends before the bridge acknowledges.
var errNoAck = errors.New("no acknowledgement from bridge")

// send publishes one command and waits for its ack.
func (r *remoteController) send(ctx context.Context, command string, params map[string]any) error {
	cmd := bulb.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		DeviceID:   r.address,
		Command:    command,
		Parameters: params,
		Source:     commandSource,
	}
	payload, err := json.Marshal(&cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	ack := make(chan bulb.AckMessage, 1)
	r.mu.Lock()
	r.pending[cmd.ID] = ack
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, cmd.ID)
		r.mu.Unlock()
	}()

	if err := r.broker.Publish(bulb.CommandTopic(r.address), payload, 1, false); err != nil {
		return fmt.Errorf("publishing %s: %w", command, err)
	}

	select {
	case msg := <-ack:
		if msg.Status == bulb.AckAccepted {
			return nil
		}
		if msg.Error != nil {
			return fmt.Errorf("%s %s: %s: %s", command, msg.Status, msg.Error.Code, msg.Error.Message)
		}
		return fmt.Errorf("%s %s", command, msg.Status)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", command, errNoAck, ctx.Err())
	}
}

func (r *remoteController) handleAck(_ string, payload []byte) error {
	var msg bulb.AckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding ack: %w", err)
	}

	r.mu.Lock()
	ch, ok := r.pending[msg.CommandID]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (r *remoteController) handleState(_ string, payload []byte) error {
	var msg bulb.StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}

	snap := snapshotFromState(r.address, msg.State)
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

// snapshotFromState rebuilds a snapshot from the published state fields.
// The base colour is recovered from the hue at full saturation.
func snapshotFromState(address string, state map[string]any) bulb.Snapshot {
	snap := bulb.Snapshot{Address: address}

	if ready, _ := state["ready"].(bool); !ready {
		return snap
	}
	snap.State = bulb.StateReady

	switch state["power"] {
	case bulb.PowerOn.String():
		snap.Power = bulb.PowerOn
	case bulb.PowerOff.String():
		snap.Power = bulb.PowerOff
	}

	switch mode, _ := state["mode"].(string); strings.ToLower(mode) {
	case bulb.ModeWhite.String():
		snap.Mode = bulb.ModeWhite
		snap.Color = bulb.White
	case bulb.ModeColor.String():
		snap.Mode = bulb.ModeColor
	}

	if level, ok := state["brightness"].(float64); ok {
		snap.Brightness = int(level)
	}
	if hue, ok := state["hue"].(float64); ok && snap.Mode == bulb.ModeColor {
		snap.Color = bulb.HSVToRGB(bulb.HSV{Hue: hue, Sat: 1, Val: 1})
	}

	return snap
}
