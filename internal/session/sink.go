package session

// EventSink receives session events. Implementations must not block.
type EventSink interface {
	Publish(Event)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

// Publish forwards e to every sink.
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// Publisher is the part of the MQTT client the MQTT sink needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
	IsConnected() bool
}

// MQTTSink publishes events to a per-user topic built by topicFor.
type MQTTSink struct {
	pub      Publisher
	topicFor func(userID, event string) string
	logger   Logger
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(pub Publisher, topicFor func(userID, event string) string, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{pub: pub, topicFor: topicFor, logger: logger}
}

// Publish sends the event if the broker is reachable and drops it otherwise.
func (s *MQTTSink) Publish(e Event) {
	if !s.pub.IsConnected() {
		return
	}
	topic := s.topicFor(e.Session.UserID, string(e.Type))
	if err := s.pub.PublishJSON(topic, e); err != nil {
		s.logger.Warn("publishing session event failed", "topic", topic, "error", err)
	}
}
