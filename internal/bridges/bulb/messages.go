package bulb

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the bulb bridge.
// The envelope matches the other Gray Logic bridges; only the protocol
// identifier and the state fields are bulb specific.

// Protocol is the protocol identifier carried in every message.
const Protocol = "bulb"

// CommandMessage is sent from Core to the bridge to control a bulb.
// Topic: graylogic/command/bulb/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	// The bridge generates one when it is empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "on", "brightness", "rgb").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 8} for brightness
	//   {"r": 255, "g": 128, "b": 0} for rgb
	//   {"kelvin": 2700, "level": 16} for temperature
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// Supported command names.
const (
	CommandOn          = "on"
	CommandOff         = "off"
	CommandWhite       = "white"
	CommandColor       = "color"
	CommandBrightness  = "brightness"
	CommandRGB         = "rgb"
	CommandHSV         = "hsv"
	CommandTemperature = "temperature"
	CommandParty       = "party"
	CommandConnect     = "connect"
	CommandDisconnect  = "disconnect"
	CommandRefresh     = "refresh"
)

// Supported request actions.
const (
	ActionReadState          = "read_state"
	ActionReadAll            = "read_all"
	ActionReadIdentification = "read_identification"
	ActionReadVendorInfo     = "read_vendor_info"
)

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the bulb confirmed the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the bulb did not answer within the command timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/bulb/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core when bulb state changes.
// Topic: graylogic/state/bulb/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to Core to report operational status.
// Topic: graylogic/health/bulb
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Statistics aggregates the counters of every registered bulb.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of bulbs in range.
	DevicesManaged int `json:"devices_managed"`

	// DevicesReady is the number of bulbs with a live link.
	DevicesReady int `json:"devices_ready"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	Transactions uint64 `json:"transactions"`
	Heartbeats   uint64 `json:"heartbeats"`
	Errors       uint64 `json:"errors"`
}

// RequestMessage is sent from Core to the bridge for request/response operations.
// Topic: graylogic/request/bulb/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation (see the Action constants).
	Action string `json:"action"`

	// Address is the target bulb for device-specific actions.
	Address string `json:"address,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage is sent from the bridge to Core in response to a request.
// Topic: graylogic/response/bulb/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage announces a bulb entering or leaving range.
// Topic: graylogic/discovery/bulb
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a bulb found during discovery.
type DiscoveredDevice struct {
	Protocol     string   `json:"protocol"`
	Address      string   `json:"address"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`

	// Present is false when the bulb has left range.
	Present bool `json:"present"`

	// Ready is true when the initial connection succeeded.
	Ready bool `json:"ready"`

	// Error is the connect failure, if any.
	Error string `json:"error,omitempty"`

	SuggestedName string `json:"suggested_name,omitempty"`
}

// bulbCapabilities is advertised for every discovered bulb.
var bulbCapabilities = []string{"on_off", "dim", "color_rgb", "color_temperature", "party_mode"}

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
// An empty timestamp is accepted.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a bulb snapshot.
func NewStateMessage(deviceID string, snap Snapshot) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     StateFields(snap),
		Protocol:  Protocol,
		Address:   snap.Address,
	}
}

// StateFields flattens a snapshot into the state map published over MQTT.
// Brightness and color are only meaningful on a ready bulb and are omitted
// otherwise.
func StateFields(snap Snapshot) map[string]any {
	state := map[string]any{
		"connection": snap.State.String(),
		"ready":      snap.Ready(),
	}
	if !snap.Ready() {
		return state
	}

	state["power"] = snap.Power.String()
	state["on"] = snap.Power == PowerOn
	state["mode"] = snap.Mode.String()
	if snap.Brightness > 0 {
		state["brightness"] = snap.Brightness
		state["level"] = snap.Brightness * 100 / MaxBrightness
	}
	if snap.Mode == ModeColor {
		state["color"] = snap.Color.String()
		hsv := RGBToHSV(snap.Color)
		state["hue"] = hsv.Hue
	}
	return state
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats BridgeStatistics, devices, ready int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Statistics:     &stats,
		DevicesManaged: devices,
		DevicesReady:   ready,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveryMessage announces the bulb of a registry event.
func NewDiscoveryMessage(bridgeID string, ev Event) DiscoveryMessage {
	dev := DiscoveredDevice{
		Protocol:      Protocol,
		Address:       ev.Address,
		Type:          "light_rgb",
		Capabilities:  bulbCapabilities,
		Present:       ev.Present(),
		Ready:         ev.Snapshot.Ready(),
		SuggestedName: ev.Name,
	}
	if ev.ConnectErr != nil {
		dev.Error = ev.ConnectErr.Error()
	}
	return DiscoveryMessage{
		Timestamp: ev.Timestamp.UTC(),
		Bridge:    bridgeID,
		Devices:   []DiscoveredDevice{dev},
	}
}

// Topic helpers. Bulb addresses carry colons only, which are valid in
// MQTT topic levels, so they are used verbatim (uppercase).

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the MQTT topic for commands to a bulb.
// Example: graylogic/command/bulb/C9:A3:05:11:22:33
func CommandTopic(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, address)
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, address)
}

// StateTopic returns the MQTT topic for state updates.
func StateTopic(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, address)
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the MQTT topic for requests.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// DiscoveryTopic returns the MQTT topic for discovery announcements.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}
