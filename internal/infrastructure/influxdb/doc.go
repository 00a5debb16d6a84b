// Package influxdb records light state history in InfluxDB v2.
//
// Client is a gateway observer. Every confirmed device change becomes a
// light_state point, every discovery run a discovery point, and lifxd
// samples the gateway counters into a gateway point on the flush interval.
//
//	light_state  tags: device_id, label, group, location, product
//	             fields: on, hue, saturation, brightness, kelvin, infrared
//	discovery    tags: trigger, status
//	             fields: duration_ms, targets, replies, devices_known, error
//	gateway      fields: devices, packets_received, frames_sent, ...
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//	manager.Subscribe(client)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval, so the observer callbacks never wait on the network.
package influxdb
