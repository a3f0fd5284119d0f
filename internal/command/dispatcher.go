package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lorawatch/internal/device"
	"github.com/nerrad567/lorawatch/internal/infrastructure/mqtt"
)

// defaultFPort is the LoRaWAN application port actuators listen on.
const defaultFPort = 10

// Publisher sends one MQTT message. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeviceLookup finds a device's last-known state. *device.Store satisfies it.
type DeviceLookup interface {
	Get(id string) (device.State, bool)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config controls downlink construction.
type Config struct {
	// ApplicationID is used for every downlink topic when set. When empty
	// the device's last-seen application is used.
	ApplicationID string

	// FPort is the downlink application port. Zero means 10.
	FPort int

	// Confirmed requests a LoRaWAN acknowledgement from the device.
	Confirmed bool

	// QoS for the publish.
	QoS byte
}

// Ack confirms that a downlink was handed to the broker. It does not mean
// the device has acted on it.
type Ack struct {
	DeviceID string    `json:"device_eui"`
	Action   Action    `json:"action"`
	Channel  Channel   `json:"channel"`
	Topic    string    `json:"topic"`
	SentAt   time.Time `json:"sent_at"`
}

// Dispatcher turns operator commands into ChirpStack downlinks, one
// publish per channel. It never retries: actuators are not safe to
// command twice blindly, so retry policy belongs to the caller.
type Dispatcher struct {
	cfg     Config
	pub     Publisher
	devices DeviceLookup
	logger  Logger
	now     func() time.Time
}

// New creates a dispatcher. devices may be nil when ApplicationID is set.
func New(cfg Config, pub Publisher, devices DeviceLookup) *Dispatcher {
	if cfg.FPort == 0 {
		cfg.FPort = defaultFPort
	}
	return &Dispatcher{
		cfg:     cfg,
		pub:     pub,
		devices: devices,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Send publishes one downlink setting channel to action on the device.
//
// Parameters:
//   - ctx: Checked before publishing
//   - deviceID: Device EUI, any case
//   - action: "on" or "off"
//   - channel: "switch_1" or "switch_2"
//
// Returns:
//   - Ack: Details of the published downlink
//   - error: ErrInvalidAction, ErrInvalidChannel, ErrInvalidDeviceID,
//     ErrUnknownApplication, or ErrTransport
func (d *Dispatcher) Send(ctx context.Context, deviceID, action, channel string) (Ack, error) {
	cmd, err := d.validate(deviceID, action, channel)
	if err != nil {
		return Ack{}, err
	}
	return d.dispatch(ctx, cmd)
}

// SendAll sends action to every channel of the device as independent
// downlinks. A failure on one channel does not stop the others; the
// returned error joins one *ChannelError per failure (see FailedChannels).
func (d *Dispatcher) SendAll(ctx context.Context, deviceID, action string) ([]Ack, error) {
	acks := make([]Ack, 0, len(Channels))
	var errs []error

	for _, ch := range Channels {
		ack, err := d.Send(ctx, deviceID, action, string(ch))
		if err != nil {
			// Validation failures are identical for every channel.
			if !errors.Is(err, ErrTransport) {
				return nil, err
			}
			errs = append(errs, &ChannelError{Channel: ch, Err: err})
			continue
		}
		acks = append(acks, ack)
	}
	return acks, errors.Join(errs...)
}

func (d *Dispatcher) validate(deviceID, action, channel string) (Command, error) {
	id := device.NormalizeID(deviceID)
	if id == "" {
		return Command{}, ErrInvalidDeviceID
	}
	a, err := ParseAction(action)
	if err != nil {
		return Command{}, err
	}
	c, err := ParseChannel(channel)
	if err != nil {
		return Command{}, err
	}
	return Command{DeviceID: id, Action: a, Channel: c}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) (Ack, error) {
	appID, err := d.applicationFor(cmd.DeviceID)
	if err != nil {
		return Ack{}, err
	}

	payload, err := json.Marshal(downlink{
		DevEUI:    cmd.DeviceID,
		Confirmed: d.cfg.Confirmed,
		FPort:     d.cfg.FPort,
		Object:    map[string]string{string(cmd.Channel): string(cmd.Action)},
	})
	if err != nil {
		return Ack{}, fmt.Errorf("marshalling downlink: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	topic := mqtt.Topics{}.DeviceDownlink(appID, cmd.DeviceID)
	if err := d.pub.Publish(topic, payload, d.cfg.QoS, false); err != nil {
		d.logger.Warn("downlink publish failed",
			"device_eui", cmd.DeviceID,
			"channel", cmd.Channel,
			"error", err,
		)
		return Ack{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	d.logger.Info("downlink queued",
		"device_eui", cmd.DeviceID,
		"channel", cmd.Channel,
		"action", cmd.Action,
	)
	return Ack{
		DeviceID: cmd.DeviceID,
		Action:   cmd.Action,
		Channel:  cmd.Channel,
		Topic:    topic,
		SentAt:   d.now().UTC(),
	}, nil
}

// applicationFor resolves the ChirpStack application for a device.
func (d *Dispatcher) applicationFor(id string) (string, error) {
	if d.cfg.ApplicationID != "" {
		return d.cfg.ApplicationID, nil
	}
	if d.devices != nil {
		if st, ok := d.devices.Get(id); ok && st.ApplicationID != "" {
			return st.ApplicationID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownApplication, id)
}
