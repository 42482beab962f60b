// Package influxdb stores relay telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Data Model
//
// Decoded sensor readings land in one measurement (default
// "sensor_readings"):
//
//	sensor_readings,fingerprint=3f9a0c1b2d4e,mac=aabbccddeeff,home_id=h1,sensor=1 value=21.5,device_ts=1700000000
//
// Only numeric values are written; device_ts is present when the device
// sent a numeric timestamp. Device presence transitions land in
// "device_presence" with an online=true|false field. Home tokens are never
// written; the fingerprint tag identifies the credential instead.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReadings(tags, readings, time.Now())
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly. Close flushes pending points.
package influxdb
