package hub

// ChatHub publishes an LLM turn's text deltas and status events to a
// session's subscribers — the onDelta/onStatus sinks the orchestrator
// streams through (spec.md §4.5 step 5).
type ChatHub struct {
	hub *Hub
}

// NewChatHub constructs a ChatHub over hub.
func NewChatHub(hub *Hub) *ChatHub {
	return &ChatHub{hub: hub}
}

func sessionChannel(sessionID string) string { return "session:" + sessionID }

// OnDelta returns a callback suitable for llm.Orchestrator's onDelta
// parameter, publishing each text delta to sessionID's subscribers.
func (c *ChatHub) OnDelta(sessionID string) func(string) {
	return func(text string) {
		c.hub.Publish(sessionChannel(sessionID), map[string]any{
			"type": "chat.delta",
			"text": text,
		})
	}
}

// OnStatus returns a callback suitable for llm.Orchestrator's onStatus
// parameter, publishing lifecycle events (tool_call, tool_result,
// title_generated, ...) to sessionID's subscribers.
func (c *ChatHub) OnStatus(sessionID string) func(event string, detail map[string]any) {
	return func(event string, detail map[string]any) {
		payload := map[string]any{"type": "chat." + event}
		for k, v := range detail {
			payload[k] = v
		}
		c.hub.Publish(sessionChannel(sessionID), payload)
	}
}

// Subscribers reports how many clients are watching sessionID.
func (c *ChatHub) Subscribers(sessionID string) int {
	return c.hub.SubscriberCount(sessionChannel(sessionID))
}
