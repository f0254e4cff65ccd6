package hub

// CommandHub publishes live stdout chunks from a streamed command execution
// to subscribers watching that execution — the counterpart to
// executor.StreamCommandOutput's channel, for dashboards that want to tail
// a running command rather than waiting for its final Result.
type CommandHub struct {
	hub *Hub
}

// NewCommandHub constructs a CommandHub over hub.
func NewCommandHub(hub *Hub) *CommandHub {
	return &CommandHub{hub: hub}
}

func executionChannel(executionID string) string { return "execution:" + executionID }

// PublishChunk forwards one chunk of live command output to executionID's
// subscribers.
func (c *CommandHub) PublishChunk(executionID string, data []byte, done bool, chunkErr error) {
	payload := map[string]any{
		"type": "command.chunk",
		"data": string(data),
		"done": done,
	}
	if chunkErr != nil {
		payload["error"] = chunkErr.Error()
	}
	c.hub.Publish(executionChannel(executionID), payload)
}

// Subscribers reports how many clients are watching executionID.
func (c *CommandHub) Subscribers(executionID string) int {
	return c.hub.SubscriberCount(executionChannel(executionID))
}
