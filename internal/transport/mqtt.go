package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// PayloadHandler receives raw sensor payloads. It must not block.
type PayloadHandler func(payload []byte)

// MQTTClient subscribes to sensor readings and publishes pump commands
type MQTTClient struct {
	config  config.MQTTConfig
	client  mqtt.Client
	handler PayloadHandler
}

// NewMQTTClient builds a client that hands every sensor payload to handler.
// The subscription is renewed on every (re)connect.
func NewMQTTClient(cfg config.MQTTConfig, handler PayloadHandler) *MQTTClient {
	c := &MQTTClient{config: cfg, handler: handler}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.GetLogger().Warnf("MQTT connection lost: %v", err)
		})

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	logger.GetLogger().WithField("broker", c.config.Broker).Info("Connected to MQTT broker")

	token := client.Subscribe(c.config.SensorTopic, byte(c.config.QoS), func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		logger.GetLogger().Warnf("Timed out subscribing to %s", c.config.SensorTopic)
		return
	}
	if err := token.Error(); err != nil {
		logger.GetLogger().Errorf("Failed to subscribe to %s: %v", c.config.SensorTopic, err)
		return
	}
	logger.GetLogger().WithField("topic", c.config.SensorTopic).Info("Subscribed to sensor topic")
}

// Connect dials the broker, bounded by the configured connect timeout
func (c *MQTTClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("timed out connecting to mqtt broker %s", c.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", c.config.Broker, err)
	}
	return nil
}

// Publish sends the pump command on the control topic
func (c *MQTTClient) Publish(ctx context.Context, action rl.Action) error {
	token := c.client.Publish(c.config.ControlTopic, byte(c.config.QoS), false, FormatCommand(action))

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing pump command: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish pump command: %w", err)
	}
	return nil
}

// Disconnect waits up to quiesce for in-flight work before closing
func (c *MQTTClient) Disconnect(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce.Milliseconds()))
	logger.GetLogger().Info("Disconnected from MQTT broker")
}
