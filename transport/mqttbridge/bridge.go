// Package mqttbridge connects a calibration service to an MQTT broker. Raw samples, frame poses
// and calibration requests are read from topics under a prefix; outputs, status, responses and
// cancel events are published under the same prefix.
//
//	<prefix>/in/wrench           raw samples in the sensor frame
//	<prefix>/in/pose/<frame>     pose of a dynamic frame relative to its parent
//	<prefix>/cmd/<op>            calibration request parameters
//	<prefix>/out/<slot>          one output wrench per slot
//	<prefix>/status              cycle status
//	<prefix>/response/<op>       calibration responses
//	<prefix>/cancel              cancel events
package mqttbridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// Client is the part of an MQTT client the bridge uses. mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Handler receives what arrives over MQTT.
type Handler interface {
	Update(ctx context.Context, raw wrench.Wrench) (pipeline.Outputs, error)
	Do(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	SetPose(frame string, pose spatialmath.Pose, at time.Time) error
}

// Config holds the topic layout and delivery settings.
type Config struct {
	TopicPrefix string
	QoS         byte
	// Timeout bounds how long a publish or subscribe waits for the broker.
	Timeout time.Duration
}

// ClientConfig describes a broker connection.
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Connect dials a broker. Client library errors are logged through logger.
func Connect(cfg ClientConfig, logger logging.Logger) (mqtt.Client, error) {
	mqtt.ERROR = zap.NewStdLog(logger.Desugar())
	mqtt.CRITICAL = zap.NewStdLog(logger.Desugar())

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("lost connection to broker", "broker", cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Infow("connected to broker", "broker", cfg.Broker)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, errors.Errorf("timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "cannot connect to %s", cfg.Broker)
	}
	return client, nil
}

// Bridge moves messages between a broker and a Handler.
type Bridge struct {
	client  Client
	cfg     Config
	handler Handler
	logger  logging.Logger

	mu         sync.Mutex
	ctx        context.Context
	subscribed []string
}

// New returns a bridge. Call Start to subscribe.
func New(client Client, cfg Config, handler Handler, logger logging.Logger) *Bridge {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Bridge{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		ctx:     context.Background(),
	}
}

func (b *Bridge) topic(parts ...string) string {
	return strings.Join(append([]string{b.cfg.TopicPrefix}, parts...), "/")
}

// Start subscribes to the input and command topics. Message handlers run with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	subs := map[string]mqtt.MessageHandler{
		b.topic("in", "wrench"):    b.onWrench,
		b.topic("in", "pose", "+"): b.onPose,
		b.topic("cmd", "+"):        b.onCommand,
	}
	for topic, handler := range subs {
		if err := b.wait(b.client.Subscribe(topic, b.cfg.QoS, handler)); err != nil {
			return errors.Wrapf(err, "cannot subscribe to %s", topic)
		}
		b.mu.Lock()
		b.subscribed = append(b.subscribed, topic)
		b.mu.Unlock()
	}
	return nil
}

func (b *Bridge) wait(token mqtt.Token) error {
	if !token.WaitTimeout(b.cfg.Timeout) {
		return errors.New("timed out waiting for broker")
	}
	return token.Error()
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bridge) onWrench(_ mqtt.Client, msg mqtt.Message) {
	var raw wrench.Wrench
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		b.logger.Warnw("dropping malformed wrench", "topic", msg.Topic(), "error", err)
		return
	}
	if _, err := b.handler.Update(b.context(), raw); err != nil {
		b.logger.Warnw("dropping sample", "topic", msg.Topic(), "error", err)
	}
}

// PoseMessage is the payload of a pose topic. A zero time means now.
type PoseMessage struct {
	Translation spatialmath.TranslationConfig  `json:"translation"`
	Orientation *spatialmath.OrientationConfig `json:"orientation,omitempty"`
	Time        time.Time                      `json:"time"`
}

func (b *Bridge) onPose(_ mqtt.Client, msg mqtt.Message) {
	frame := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	var pm PoseMessage
	if err := json.Unmarshal(msg.Payload(), &pm); err != nil {
		b.logger.Warnw("dropping malformed pose", "frame", frame, "error", err)
		return
	}
	orientation, err := pm.Orientation.ParseConfig()
	if err != nil {
		b.logger.Warnw("dropping pose with bad orientation", "frame", frame, "error", err)
		return
	}
	at := pm.Time
	if at.IsZero() {
		at = time.Now()
	}
	if err := b.handler.SetPose(frame, spatialmath.NewPose(pm.Translation.ParseConfig(), orientation), at); err != nil {
		b.logger.Warnw("cannot set pose", "frame", frame, "error", err)
	}
}

func (b *Bridge) onCommand(_ mqtt.Client, msg mqtt.Message) {
	ctx := b.context()
	op := pipeline.Op(msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:])
	params := map[string]interface{}{}
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &params); err != nil {
			b.respond(ctx, pipeline.Response{Op: op, Message: errors.Wrap(err, "cannot parse parameters").Error()})
			return
		}
	}
	req, err := pipeline.DecodeRequest(op, params)
	if err != nil {
		b.respond(ctx, pipeline.Response{Op: op, Message: err.Error()})
		return
	}
	//nolint:errcheck
	resp, _ := b.handler.Do(ctx, req)
	b.respond(ctx, resp)
}

func (b *Bridge) respond(ctx context.Context, resp pipeline.Response) {
	if err := b.publish(b.topic("response", string(resp.Op)), false, resp); err != nil {
		b.logger.CWarnw(ctx, "cannot publish response", "op", resp.Op, "error", err)
	}
}

func (b *Bridge) publish(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.wait(b.client.Publish(topic, b.cfg.QoS, retained, payload))
}

// PublishOutputs publishes every slot of out and its status.
func (b *Bridge) PublishOutputs(ctx context.Context, out pipeline.Outputs) {
	var errs error
	errs = multierr.Append(errs, b.publish(b.topic("out", "raw_sensor"), false, out.RawSensor))
	for _, slot := range pipeline.AllSlots() {
		errs = multierr.Append(errs, b.publish(b.topic("out", slot.String()), false, out.Wrench(slot)))
	}
	errs = multierr.Append(errs, b.publish(b.topic("status"), true, out.Status))
	if errs != nil {
		b.logger.CDebugw(ctx, "cannot publish outputs", "error", errs)
	}
}

// Cancel publishes a cancel event.
func (b *Bridge) Cancel(ctx context.Context, ev pipeline.CancelEvent) {
	if err := b.publish(b.topic("cancel"), false, ev); err != nil {
		b.logger.CWarnw(ctx, "cannot publish cancel", "reason", ev.Reason, "error", err)
	}
}

// Close unsubscribes and disconnects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	topics := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()

	var err error
	if len(topics) > 0 {
		err = b.wait(b.client.Unsubscribe(topics...))
	}
	b.client.Disconnect(250)
	return err
}

var _ pipeline.Canceller = (*Bridge)(nil)
