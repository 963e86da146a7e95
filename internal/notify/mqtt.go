package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

const publishTimeout = 5 * time.Second

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

// Publisher announces completed ingestion runs on an MQTT topic.
type Publisher struct {
	topic   string
	publish func(topic string, payload []byte) error
	closeFn func()
	logger  *zap.Logger
}

// NewPublisher connects to the broker and returns a Publisher.
func NewPublisher(opts Options, logger *zap.Logger) (*Publisher, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetAutoReconnect(true)
	c := mqtt.NewClient(o)

	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	publish := func(topic string, payload []byte) error {
		t := c.Publish(topic, 1, false, payload)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("mqtt: publish to %s timed out", topic)
		}
		return t.Error()
	}
	return newPublisher(opts.Topic, publish, func() { c.Disconnect(250) }, logger), nil
}

func newPublisher(topic string, publish func(string, []byte) error, closeFn func(), logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{topic: topic, publish: publish, closeFn: closeFn, logger: logger}
}

// ObserveRun publishes the run report as JSON. Failures are logged, never returned.
func (p *Publisher) ObserveRun(ctx context.Context, report mix.RunReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		p.logger.Error("mqtt: encode run report", zap.String("run_id", report.ID), zap.Error(err))
		return
	}
	if err := p.publish(p.topic, payload); err != nil {
		p.logger.Warn("mqtt: publish run report", zap.String("run_id", report.ID), zap.Error(err))
		return
	}
	p.logger.Debug("mqtt: run report published", zap.String("run_id", report.ID), zap.String("topic", p.topic))
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}
