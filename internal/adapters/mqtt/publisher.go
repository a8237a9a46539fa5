// Package mqtt streams tick snapshots to an MQTT broker for dashboards and
// remote observers.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	// BufferSize bounds the publish backlog; snapshots beyond it are
	// dropped rather than delaying the control loop.
	BufferSize     int
	ConnectTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "t8-daq"
	}
	if c.Topic == "" {
		c.Topic = "t8/snapshots"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Publisher implements ports.SnapshotObserver over an MQTT connection.
type Publisher struct {
	cfg    Config
	client paho.Client
	obs    ports.Observability

	ch       chan *domain.Snapshot
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg Config, obs ports.Observability) (*Publisher, error) {
	cfg.applyDefaults()
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	return &Publisher{
		cfg:    cfg,
		client: client,
		obs:    obs,
		ch:     make(chan *domain.Snapshot, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Publish hands the snapshot to the sender goroutine. Never blocks; when the
// buffer is full the snapshot is dropped.
func (p *Publisher) Publish(s *domain.Snapshot) {
	select {
	case p.ch <- s:
	default:
	}
}

// Start launches the sender goroutine.
func (p *Publisher) Start() {
	go p.run()
}

// Stop terminates the sender and disconnects. Snapshots still buffered are
// discarded.
func (p *Publisher) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.client.Disconnect(250)
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			return
		case s := <-p.ch:
			payload, err := json.Marshal(s)
			if err != nil {
				p.obs.LogError("mqtt_marshal_failed", err)
				continue
			}
			token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				p.obs.LogError("mqtt_publish_failed", err)
			}
		}
	}
}

var _ ports.SnapshotObserver = (*Publisher)(nil)
