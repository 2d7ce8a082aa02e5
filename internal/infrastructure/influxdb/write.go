package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// readingMeasurement is the measurement name for relayed readings.
const readingMeasurement = "reading"

// WriteReading queues one numeric reading. It never blocks on the network.
func (c *Client) WriteReading(device, channel string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(c.agentID, device, channel, value, ts))
}

// readingPoint builds the point for one reading:
//
//	reading,agent=<id>,channel=<channel>,device=<device> value=<v> <ts>
func readingPoint(agentID, device, channel string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		readingMeasurement,
		map[string]string{
			"agent":   agentID,
			"device":  device,
			"channel": channel,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}
