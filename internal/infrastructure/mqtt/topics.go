package mqtt

import "fmt"

// TopicPrefix is the root of every topic the identity service publishes.
const TopicPrefix = "identity"

// Topics provides builders for the service's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.SessionEvent("u-1", "opened") // identity/sessions/u-1/opened
type Topics struct{}

// ServiceStatus carries the retained online/offline document and the LWT.
//
// Example: identity/system/status
func (Topics) ServiceStatus() string {
	return TopicPrefix + "/system/status"
}

// MailOutbox is consumed by the mail relay that delivers verification codes.
//
// Example: identity/mail/outbox
func (Topics) MailOutbox() string {
	return TopicPrefix + "/mail/outbox"
}

// SessionEvent announces session lifecycle changes for one user.
//
// Example: identity/sessions/u-123/closed
func (Topics) SessionEvent(userID, event string) string {
	return fmt.Sprintf("%s/sessions/%s/%s", TopicPrefix, userID, event)
}

// AllSessionEvents is the wildcard subscription for downstream consumers.
func (Topics) AllSessionEvents() string {
	return TopicPrefix + "/sessions/+/+"
}
