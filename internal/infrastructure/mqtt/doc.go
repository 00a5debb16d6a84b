// Package mqtt mirrors lifxd's device state onto an MQTT broker.
//
// Client manages the broker connection with auto-reconnect, a retained
// online/offline status and a Last Will for crash detection. Mirror
// subscribes to the gateway as an observer and publishes:
//
//	lifx/state/<device-id>   retained JSON light view, on every change
//	lifx/discovery           JSON discovery result, per run
//
// and, when an applier is configured, accepts state commands on
// lifx/set/<selector> with the same JSON body as PUT /v1/lights/{selector}/state.
//
// The broker is optional. lifxd runs without it and the mirror counts
// failed publishes while disconnected.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mirror := mqtt.NewMirror(client, client.Topics(), applier, logger)
//	manager.Subscribe(mirror)
//	go mirror.Run(ctx)
//	client.Subscribe(client.Topics().AllSet(), 1, mirror.HandleCommand)
package mqtt
