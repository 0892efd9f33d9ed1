// Package mqtt publishes minerctl events to an MQTT broker and accepts
// remote start/stop commands.
//
// This package manages:
//   - Connection with auto-reconnect and a retained online/offline status (LWT)
//   - Publishing with QoS validation and payload limits
//   - Subscriptions restored after reconnects
//   - A Bridge from the event bus to the rig's topic tree
//
// # Topics
//
//	minerctl/{rig}/status | state | telemetry | block | warning | tuning
//	minerctl/{rig}/command/{start|stop}
//
// {rig} is the configured client ID.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge := mqtt.NewBridge(client, client.Topics(), byte(cfg.MQTT.QoS), sup)
//	go bridge.Run(ctx, sup.Sink())
package mqtt
