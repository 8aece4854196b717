// Package mqtt provides the MQTT publisher used by the identity service.
//
// The service only publishes. Messages go to:
//   - identity/mail/outbox: verification mail requests for the mail relay
//   - identity/sessions/{user_id}/{event}: session lifecycle events
//   - identity/system/status: retained online/offline status and LWT
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.MailOutbox(), msg)
//
// TLS should be enabled for any broker outside the local host
// (cfg.Broker.TLS=true). Payloads are not encrypted beyond transport.
package mqtt
