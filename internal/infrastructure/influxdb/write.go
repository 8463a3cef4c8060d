package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/coachsync/coachsync/internal/entity"
)

// WriteConfirmedUpdate records the numeric fields of a confirmed state
// update. Non-numeric fields (booleans, strings) are skipped; boolean
// fields are recorded as 0/1 so on/off history is queryable.
//
// Designed to sit directly on the notifier as a subscriber.
func (c *Client) WriteConfirmedUpdate(u entity.Update) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(u.Fields))
	for k, v := range u.Fields {
		switch val := v.(type) {
		case float64:
			fields[k] = val
		case int:
			fields[k] = float64(val)
		case bool:
			if val {
				fields[k] = 1.0
			} else {
				fields[k] = 0.0
			}
		}
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"entity_state",
		map[string]string{
			"entity_id": u.EntityID,
		},
		fields,
		u.Timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteOperationMetric records the outcome of a bulk operation for
// capacity and latency analysis.
func (c *Client) WriteOperationMetric(operationID string, total, success, failed int, totalTimeMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bulk_operations",
		map[string]string{
			"operation_id": operationID,
		},
		map[string]interface{}{
			"total_count":   total,
			"success_count": success,
			"failed_count":  failed,
			"total_time_ms": totalTimeMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
