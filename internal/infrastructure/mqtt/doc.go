// Package mqtt provides broker connectivity for the hub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Optional background connect so the hub starts without a broker
//   - Publishing, including clearing retained messages
//   - Subscriptions restored on every reconnect
//   - Last Will and Testament
//   - Topic join and wildcard matching helpers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(mqtt.Will{Topic: "homie/homey/$state", Payload: "lost", QoS: 1, Retained: true}),
//	    mqtt.WithBackgroundConnect(),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe("homie/homey/+/+/set", 1, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
