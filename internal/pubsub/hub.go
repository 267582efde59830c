package pubsub

import (
	"fmt"
	"strings"

	"github.com/guilhermegouw/chatctx/internal/events"
)

// Hub holds the brokers of one process.
type Hub struct {
	Session      *Broker[events.SessionEvent]
	Conversation *Broker[events.ConversationEvent]
}

// NewHub creates a hub whose brokers buffer size events per subscriber.
// A non-positive size selects DefaultBufferSize.
func NewHub(size int) *Hub {
	return &Hub{
		Session:      NewBroker[events.SessionEvent]("session", size),
		Conversation: NewBroker[events.ConversationEvent]("conversation", size),
	}
}

// Shutdown closes every subscription of both brokers.
func (h *Hub) Shutdown() {
	h.Session.Shutdown()
	h.Conversation.Shutdown()
}

// AllMetrics returns the metrics of both brokers.
func (h *Hub) AllMetrics() []BrokerMetrics {
	return []BrokerMetrics{
		h.Session.Metrics(),
		h.Conversation.Metrics(),
	}
}

// DebugString formats AllMetrics for the debug log.
func (h *Hub) DebugString() string {
	metrics := h.AllMetrics()

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Brokers (%d) ===\n", len(metrics))
	for _, m := range metrics {
		fmt.Fprintf(&sb, "  %s: subs=%d (peak=%d), published=%d, dropped=%d\n",
			m.Name, m.SubscriberCount, m.SubscriberPeak, m.PublishCount, m.DropCount)
	}
	return sb.String()
}
