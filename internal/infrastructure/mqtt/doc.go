// Package mqtt provides MQTT client connectivity for lorawatch.
//
// This package manages:
//   - Sessions with the ChirpStack broker (Mosquitto, EMQX, ...)
//   - Message publishing with QoS guarantees (downlinks, status)
//   - Topic subscriptions with wildcard support (uplinks)
//   - Last Will and Testament (LWT) for offline detection
//
// # Reconnection
//
// The client never reconnects by itself. The ingest pipeline calls Connect,
// subscribes, and on a lost connection waits a fixed backoff before calling
// Connect again. The broker session is clean, so subscriptions are dropped
// with the connection and re-issued by the pipeline.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe(mqtt.Topics{}.AllUplinks(""), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("uplink on %s", topic)
//	        return nil
//	    })
package mqtt
