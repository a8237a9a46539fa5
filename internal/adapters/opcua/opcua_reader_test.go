package opcua

import (
	"context"
	"testing"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
)

func testReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(Config{
		Endpoint:   "opc.tcp://127.0.0.1:4840",
		StaleAfter: 100 * time.Millisecond,
		Nodes: []NodeConfig{
			{NodeID: "ns=2;s=Chamber.T1", SensorID: "T1"},
			{NodeID: "ns=2;s=Chamber.P1", SensorID: "P1"},
		},
	})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r
}

func TestReadAllBeforeFirstNotification(t *testing.T) {
	r := testReader(t)

	readings, err := r.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, sensor := range []string{"T1", "P1"} {
		got, ok := readings[sensor]
		if !ok {
			t.Fatalf("every configured sensor must appear, %s missing", sensor)
		}
		if got.Valid {
			t.Fatalf("sensor %s has never reported and must be invalid", sensor)
		}
	}
}

func TestReadAllReturnsCachedValues(t *testing.T) {
	r := testReader(t)
	r.cache["T1"] = domain.Reading{Value: 23.5, Valid: true, Timestamp: time.Now()}

	readings, err := r.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := readings["T1"]; !got.Valid || got.Value != 23.5 {
		t.Fatalf("unexpected T1 reading: %+v", got)
	}
	if readings["P1"].Valid {
		t.Fatalf("P1 has no cached value and must be invalid")
	}
}

func TestReadAllInvalidatesStaleReadings(t *testing.T) {
	r := testReader(t)
	r.cache["T1"] = domain.Reading{Value: 23.5, Valid: true, Timestamp: time.Now().Add(-time.Second)}

	readings, err := r.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if readings["T1"].Valid {
		t.Fatalf("reading older than stale_after must be invalid")
	}
}

func TestReadAllHonorsContext(t *testing.T) {
	r := testReader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.ReadAll(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://127.0.0.1:4840", Nodes: []NodeConfig{{NodeID: "ns=2;s=X"}}}
	cfg.ApplyDefaults()
	if cfg.SecurityMode != "None" || cfg.SecurityPolicy != "None" {
		t.Fatalf("security defaults: %+v", cfg)
	}
	if cfg.PublishInterval != 250*time.Millisecond {
		t.Fatalf("publish interval default: %v", cfg.PublishInterval)
	}
	if cfg.StaleAfter != time.Second {
		t.Fatalf("stale_after default: %v", cfg.StaleAfter)
	}
	if cfg.Nodes[0].SensorID != "ns=2;s=X" {
		t.Fatalf("sensor id must default to the node id")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Fatalf("empty endpoint must be rejected")
	}
	if err := (&Config{Endpoint: "opc.tcp://x"}).Validate(); err == nil {
		t.Fatalf("empty node list must be rejected")
	}
}
