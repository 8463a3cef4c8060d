package influxdb

import (
	"errors"
	"testing"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseZeroClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestFlushZeroClient(t *testing.T) {
	c := &Client{}
	c.Flush() // must not panic
}

func TestWritesOnDisconnectedClientAreNoOps(t *testing.T) {
	c := &Client{} // never connected
	c.WriteConfirmedUpdate(entity.Update{
		EntityID:  "light-1",
		Fields:    entity.State{"brightness": 80.0},
		Timestamp: time.Now(),
	})
	c.WriteOperationMetric("op-1", 3, 2, 1, 120)
}
