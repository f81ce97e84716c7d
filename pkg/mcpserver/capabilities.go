package mcpserver

// ToolDefinition describes one callable tool in the server's capability
// listing. InputSchema is a JSON Schema fragment advertised to clients;
// the server does not enforce it beyond its own argument validation.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ResourceDefinition describes one readable resource.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Capabilities is the full capability listing returned from initialize.
type Capabilities struct {
	Tools     []ToolDefinition     `json:"tools"`
	Resources []ResourceDefinition `json:"resources"`
}

// Resource URIs served by resources/read.
const (
	MetricsResourceURI  = "queue://metrics"
	ChannelsResourceURI = "queue://channels"
)

func defaultCapabilities() Capabilities {
	return Capabilities{
		Tools: []ToolDefinition{
			{
				Name:        "publish_message",
				Description: "Publish a message to a channel",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"channel":     map[string]interface{}{"type": "string", "description": "Channel name"},
						"content":     map[string]interface{}{"description": "Message content"},
						"sender":      map[string]interface{}{"type": "string", "description": "Sender agent ID"},
						"priority":    map[string]interface{}{"type": "integer", "default": 0},
						"ttl_seconds": map[string]interface{}{"type": "number", "description": "Time to live"},
					},
					"required": []string{"channel", "content", "sender"},
				},
			},
			{
				Name:        "subscribe_channel",
				Description: "Subscribe to messages on a channel",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"channel":  map[string]interface{}{"type": "string", "description": "Channel name"},
						"agent_id": map[string]interface{}{"type": "string", "description": "Subscriber agent ID"},
						"filters":  map[string]interface{}{"type": "object", "description": "Optional message filters"},
					},
					"required": []string{"channel", "agent_id"},
				},
			},
			{
				Name:        "unsubscribe_channel",
				Description: "Unsubscribe from a channel",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"channel":  map[string]interface{}{"type": "string", "description": "Channel name"},
						"agent_id": map[string]interface{}{"type": "string", "description": "Agent ID"},
					},
					"required": []string{"channel", "agent_id"},
				},
			},
			{
				Name:        "get_messages",
				Description: "Get pending messages for an agent",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"agent_id": map[string]interface{}{"type": "string", "description": "Agent ID"},
						"channel":  map[string]interface{}{"type": "string", "description": "Optional channel filter"},
						"limit":    map[string]interface{}{"type": "integer", "default": 10},
					},
					"required": []string{"agent_id"},
				},
			},
			{
				Name:        "acknowledge_message",
				Description: "Acknowledge message delivery",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message_id": map[string]interface{}{"type": "string", "description": "Message ID"},
						"agent_id":   map[string]interface{}{"type": "string", "description": "Agent ID"},
					},
					"required": []string{"message_id", "agent_id"},
				},
			},
			{
				Name:        "get_performance_metrics",
				Description: "Get performance metrics",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
			{
				Name:        "list_channels",
				Description: "List all active channels",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
		Resources: []ResourceDefinition{
			{
				URI:         MetricsResourceURI,
				Name:        "Performance Metrics",
				Description: "Real-time performance metrics",
			},
			{
				URI:         ChannelsResourceURI,
				Name:        "Channel List",
				Description: "List of active channels and subscribers",
			},
		},
	}
}
