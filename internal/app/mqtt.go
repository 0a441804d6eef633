// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/speedcal/internal/config"
)

// Topics is the MQTT topic set for one track, laid out as
// {prefix}/speed-cal/{name}/{suffix}.
type Topics struct {
	Arm      string
	Stop     string
	Status   string
	Result   string
	Error    string
	Log      string
	LogLevel string
}

// NewTopics builds the topic set.
func NewTopics(prefix, name string) Topics {
	base := fmt.Sprintf("%s/speed-cal/%s/", prefix, name)
	return Topics{
		Arm:      base + "arm",
		Stop:     base + "stop",
		Status:   base + "status",
		Result:   base + "result",
		Error:    base + "error",
		Log:      base + "log",
		LogLevel: base + "log/level",
	}
}

// TopicsFromConfig builds the topic set from the loaded configuration.
func TopicsFromConfig(cfg *config.Config) Topics {
	return NewTopics(cfg.MQTTTopicPrefix, cfg.MQTTDeviceName)
}

// LevelCommander applies a runtime log level command.
type LevelCommander interface {
	HandleCommand(payload string) error
}

// MQTTBridge connects a Controller to the broker: inbound command topics
// are queued on the controller and outbound events are published.
type MQTTBridge struct {
	client mqtt.Client
	topics Topics
	ctrl   *Controller
	levels LevelCommander
	logger *slog.Logger
}

// NewMQTTBridge wraps an existing client. levels may be nil.
func NewMQTTBridge(client mqtt.Client, topics Topics, ctrl *Controller, levels LevelCommander, logger *slog.Logger) *MQTTBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTBridge{
		client: client,
		topics: topics,
		ctrl:   ctrl,
		levels: levels,
		logger: logger.With("component", "mqtt"),
	}
}

// ConnectTrackMQTT creates the track host's MQTT client. If the broker is not
// reachable within connectWait the bridge is still returned and keeps
// retrying in the background.
func ConnectTrackMQTT(cfg *config.Config, ctrl *Controller, levels LevelCommander, logger *slog.Logger, connectWait time.Duration) *MQTTBridge {
	b := NewMQTTBridge(nil, TopicsFromConfig(cfg), ctrl, levels, logger)

	offline, _ := json.Marshal(StatusPayload{Type: "status", State: "offline"})
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetWill(b.topics.Status, string(offline), 1, true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn("connection lost", "error", err)
		})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectWait) {
		b.logger.Warn("broker not reachable yet, retrying in background", "broker", cfg.MQTTBroker)
	} else if err := token.Error(); err != nil {
		b.logger.Error("connect failed", "broker", cfg.MQTTBroker, "error", err)
	}
	return b
}

func (b *MQTTBridge) onConnect(c mqtt.Client) {
	b.logger.Info("connected", "status_topic", b.topics.Status)
	for _, topic := range []string{b.topics.Arm, b.topics.Stop, b.topics.Status, b.topics.LogLevel} {
		token := c.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			b.handle(msg.Topic(), msg.Payload())
		})
		// Wait off the callback goroutine.
		go func(topic string, t mqtt.Token) {
			if t.WaitTimeout(10*time.Second) && t.Error() != nil {
				b.logger.Error("subscribe failed", "topic", topic, "error", t.Error())
			}
		}(topic, token)
	}
	if err := b.ctrl.Post(CmdStatus); err != nil {
		b.logger.Warn("status request not queued", "error", err)
	}
}

// handle dispatches one inbound message.
func (b *MQTTBridge) handle(topic string, payload []byte) {
	switch topic {
	case b.topics.Arm:
		b.post(CmdArm)
	case b.topics.Stop:
		b.post(CmdDisarm)
	case b.topics.Status:
		// Our own retained status comes back on this topic; only empty
		// payloads are requests.
		if len(payload) == 0 || string(payload) == "?" || string(payload) == "get" {
			b.post(CmdStatus)
		}
	case b.topics.LogLevel:
		if b.levels == nil {
			return
		}
		if err := b.levels.HandleCommand(string(payload)); err != nil {
			b.logger.Warn("bad log level command", "payload", string(payload), "error", err)
		}
	default:
		b.logger.Debug("unhandled topic", "topic", topic)
	}
}

func (b *MQTTBridge) post(cmd Command) {
	b.logger.Debug("command received", "command", cmd)
	if err := b.ctrl.Post(cmd); err != nil {
		b.logger.Warn("command not queued", "command", cmd, "error", err)
	}
}

func (b *MQTTBridge) publishJSON(topic string, qos byte, retained bool, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("marshal failed", "topic", topic, "error", err)
		return
	}
	if !b.client.IsConnected() {
		return
	}
	b.client.Publish(topic, qos, retained, data)
}

// PublishStatus implements Publisher.
func (b *MQTTBridge) PublishStatus(st StatusPayload) {
	b.publishJSON(b.topics.Status, 0, true, st)
}

// PublishResult implements Publisher.
func (b *MQTTBridge) PublishResult(out Outcome) {
	b.publishJSON(b.topics.Result, 1, true, out.Payload)
	if e, ok := ErrorFor(out.Payload); ok {
		b.publishJSON(b.topics.Error, 1, false, e)
	}
}

// SendLog implements logging.Sink. It never logs, to avoid feeding back
// into itself.
func (b *MQTTBridge) SendLog(line string) {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	b.client.Publish(b.topics.Log, 0, false, line)
}

// Connected reports whether the broker connection is up.
func (b *MQTTBridge) Connected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Close disconnects, waiting briefly for in-flight publishes.
func (b *MQTTBridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}
