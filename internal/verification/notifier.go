package verification

import (
	"context"
	"fmt"
)

// Message is an outbound verification email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Purpose string `json:"purpose"`
}

// Notifier delivers verification messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Publisher is the part of the MQTT client the notifier needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
	IsConnected() bool
}

// MQTTNotifier hands messages to a mail relay listening on an MQTT topic.
type MQTTNotifier struct {
	pub   Publisher
	topic string
}

// NewMQTTNotifier creates a notifier publishing to topic.
func NewMQTTNotifier(pub Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, topic: topic}
}

// Notify publishes msg as JSON.
func (n *MQTTNotifier) Notify(_ context.Context, msg Message) error {
	if !n.pub.IsConnected() {
		return ErrNotifierNotReady
	}
	if err := n.pub.PublishJSON(n.topic, msg); err != nil {
		return fmt.Errorf("publishing mail request: %w", err)
	}
	return nil
}

// LogNotifier writes messages to the log instead of sending them. It is the
// fallback when no mail relay is configured.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the recipient and subject. The code itself is only logged by
// the service in development mode.
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("verification mail not sent, no relay configured",
		"to", msg.To, "purpose", msg.Purpose)
	return nil
}

func buildMessage(email, code, purpose string) Message {
	return Message{
		To:      email,
		Subject: "Your verification code: " + code,
		Text: fmt.Sprintf("Your verification code is %s.\n\n"+
			"This code expires in %d minutes. If you did not request it, you can ignore this email.\n",
			code, int(codeTTL.Minutes())),
		Purpose: purpose,
	}
}
