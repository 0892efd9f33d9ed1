package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/minerctl/internal/events"
)

const (
	bridgeBuffer   = 128
	commandBuffer  = 4
	commandTimeout = 2 * time.Minute
)

// Broker is the part of Client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Controller receives start and stop commands.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// BridgeLogger is the logging interface of the bridge.
type BridgeLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// CommandResult is published after a command ran.
type CommandResult struct {
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Bridge mirrors bus events to MQTT and forwards command topics to a
// Controller.
//
// Block wins go out at QoS 1 without retain so a late subscriber never sees
// an old win as new. State and telemetry are retained.
type Bridge struct {
	broker Broker
	topics Topics
	qos    byte
	ctrl   Controller
	logger BridgeLogger

	commands chan string
}

// NewBridge creates a bridge. ctrl may be nil to ignore commands.
func NewBridge(broker Broker, topics Topics, qos byte, ctrl Controller) *Bridge {
	if qos > maxQoS {
		qos = 1
	}
	return &Bridge{
		broker:   broker,
		topics:   topics,
		qos:      qos,
		ctrl:     ctrl,
		logger:   noopLogger{},
		commands: make(chan string, commandBuffer),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger BridgeLogger) {
	b.logger = logger
}

// Run forwards events from bus until ctx is done or the bus is closed.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) error {
	sub := bus.Subscribe(bridgeBuffer,
		events.KindBlockFound,
		events.KindSnapshot,
		events.KindStateChanged,
		events.KindWarning,
		events.KindTuning,
	)
	defer sub.Close()

	if b.ctrl != nil {
		if err := b.broker.Subscribe(b.topics.AllCommands(), 1, b.onCommand); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
		defer b.broker.Unsubscribe(b.topics.AllCommands()) //nolint:errcheck // best effort on shutdown

		cmdCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			cancel()
			<-done
		}()
		go func() {
			defer close(done)
			b.runCommands(cmdCtx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := b.Forward(e); err != nil {
				b.logger.Warn("mqtt forward failed", "kind", e.Kind(), "error", err)
			}
		}
	}
}

// Forward publishes one event on its topic.
func (b *Bridge) Forward(e events.Event) error {
	var (
		topic    string
		qos      = b.qos
		retained bool
	)
	switch e.Kind() {
	case events.KindBlockFound:
		topic, qos = b.topics.Block(), 1
	case events.KindSnapshot:
		topic, retained = b.topics.Telemetry(), true
	case events.KindStateChanged:
		topic, retained = b.topics.State(), true
	case events.KindWarning:
		topic = b.topics.Warning()
	case events.KindTuning:
		topic = b.topics.Tuning()
	default:
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.Kind(), err)
	}
	return b.broker.Publish(topic, payload, qos, retained)
}

// onCommand runs on a paho goroutine; it only queues the action.
func (b *Bridge) onCommand(topic string, _ []byte) error {
	action, ok := b.topics.CommandAction(topic)
	if !ok {
		return fmt.Errorf("malformed command topic %q", topic)
	}
	if action != CommandStart && action != CommandStop {
		return fmt.Errorf("unknown command %q", action)
	}

	select {
	case b.commands <- action:
		return nil
	default:
		return fmt.Errorf("command queue full, dropped %q", action)
	}
}

func (b *Bridge) runCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-b.commands:
			b.execute(ctx, action)
		}
	}
}

func (b *Bridge) execute(ctx context.Context, action string) {
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	b.logger.Info("mqtt command received", "action", action)

	var err error
	switch action {
	case CommandStart:
		err = b.ctrl.Start(cctx)
	case CommandStop:
		err = b.ctrl.Stop(cctx)
	}

	res := CommandResult{Action: action, OK: err == nil, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err != nil {
		res.Error = err.Error()
		b.logger.Warn("mqtt command failed", "action", action, "error", err)
	}

	payload, _ := json.Marshal(res) //nolint:errcheck // plain struct always marshals
	if err := b.broker.Publish(b.topics.CommandResult(action), payload, b.qos, false); err != nil {
		b.logger.Debug("publishing command result failed", "action", action, "error", err)
	}
}
