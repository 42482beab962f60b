// Package mqtt publishes relay telemetry to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing decoded telemetry and device presence
//   - Last Will and Testament (LWT) on the relay status topic
//   - Connection health monitoring
//
// # Topics
//
// Everything lives under a configurable prefix (default "relay"):
//
//	relay/status                               relay online/offline (retained, LWT)
//	relay/devices/<fingerprint>/<mac>/telemetry decoded sensor records
//	relay/devices/<fingerprint>/<mac>/presence  device online/offline (retained)
//
// The fingerprint is a short hash of the home token, never the token itself.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().DeviceTelemetry(fp, mac)
//	err = client.PublishJSON(topic, payload, false)
package mqtt
