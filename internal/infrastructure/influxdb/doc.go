// Package influxdb mirrors numeric readings into InfluxDB.
//
// The mirror is optional and local to the agent; the collector connection
// remains the system of record. Writes go through the library's batching,
// non-blocking write API so a slow or unreachable server never stalls the
// caller.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Agent.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("plug-a", "power", 12.5, time.Now())
package influxdb
