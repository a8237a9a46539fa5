// Package opcua reads chamber sensors over an OPC UA subscription. Data
// changes land in a cache; the acquisition loop's ReadAll is a cache copy, so
// a slow or flapping server can never stall a control tick.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	// StaleAfter marks a cached reading invalid once it has not been
	// refreshed for this long. Staleness is a fail-safe condition.
	StaleAfter time.Duration `yaml:"stale_after"`
	Nodes      []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a monitored node to a sensor name.
type NodeConfig struct {
	NodeID   string `yaml:"node_id"`
	SensorID string `yaml:"sensor_id"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "TDS-T8 DAQ"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Second
	}
	for i := range c.Nodes {
		if c.Nodes[i].SensorID == "" {
			c.Nodes[i].SensorID = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	return nil
}

// Reader subscribes to the configured nodes and serves the latest value per
// sensor. It implements ports.SensorReader.
type Reader struct {
	cfg       Config
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig

	mu      sync.Mutex
	cache   map[string]domain.Reading
	started bool
}

func NewReader(cfg Config) (*Reader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{
		cfg:   cfg,
		cache: make(map[string]domain.Reading, len(cfg.Nodes)),
	}, nil
}

// Start connects, creates the subscription, and monitors every configured
// node. It must complete before the acquisition loop starts ticking.
func (r *Reader) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("opcua reader already started")
	}
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	clientOpts := r.buildClientOptions()

	client, err := opcua.NewClient(r.cfg.Endpoint, clientOpts...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(r.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: r.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(r.cfg.Nodes))
	for i, node := range r.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			r.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if r.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(r.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			r.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			r.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			r.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
		}
		handleMap[handle] = node
	}

	r.mu.Lock()
	r.client = client
	r.sub = sub
	r.cancel = cancel
	r.handleMap = handleMap
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.consume(ctx, notifyCh)
	return nil
}

func (r *Reader) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	sub := r.sub
	client := r.client
	r.started = false
	r.cancel = nil
	r.sub = nil
	r.client = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	r.wg.Wait()
	return err
}

// ReadAll returns the latest reading per configured sensor. A sensor whose
// cache entry is older than StaleAfter, or that has never reported, is
// returned with Valid=false so the safety monitor can act on it.
func (r *Reader) ReadAll(ctx context.Context) (map[string]domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.Reading, len(r.cfg.Nodes))
	for _, node := range r.cfg.Nodes {
		reading, ok := r.cache[node.SensorID]
		if !ok {
			out[node.SensorID] = domain.Reading{Valid: false, Timestamp: now}
			continue
		}
		if now.Sub(reading.Timestamp) > r.cfg.StaleAfter {
			reading.Valid = false
		}
		out[node.SensorID] = reading
	}
	return out, nil
}

func (r *Reader) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				log.Printf("opcua: notification error: %v", notif.Error)
				continue
			}
			r.processNotification(notif.Value)
		}
	}
}

func (r *Reader) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, item := range data.MonitoredItems {
		nodeCfg, ok := r.handleMap[item.ClientHandle]
		if !ok {
			continue
		}

		ts := item.Value.ServerTimestamp
		if ts.IsZero() {
			ts = item.Value.SourceTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}

		fv, numeric := variantToFloat(item.Value.Value)
		valid := numeric && item.Value.Status == ua.StatusOK
		if !numeric {
			log.Printf("opcua: node %s reported unsupported type %T", nodeCfg.NodeID, item.Value.Value)
		}

		r.mu.Lock()
		r.cache[nodeCfg.SensorID] = domain.Reading{Value: fv, Valid: valid, Timestamp: ts}
		r.mu.Unlock()
	}
}

func (r *Reader) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(r.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(r.cfg.SecurityPolicy)),
		opcua.ApplicationName(r.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if r.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(r.cfg.Username, r.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	return opts
}

func (r *Reader) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.SensorReader = (*Reader)(nil)
