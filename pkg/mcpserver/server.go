package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agentmq/pkg/messagequeue"
	"github.com/illmade-knight/go-agentmq/pkg/types"
)

const defaultProtocolVersion = "2024-11-05"

// ServerConfig holds the identity the server reports to clients during
// initialize.
type ServerConfig struct {
	Name    string
	Version string
}

// Server translates JSON-RPC 2.0 requests into broker operations. It is
// transport independent; pair it with StdioServer for the line-delimited
// stdio transport agents speak.
type Server struct {
	name    string
	version string
	broker  *messagequeue.Broker
	caps    Capabilities
	logger  zerolog.Logger
}

// NewServer creates a Server over the given broker, applying defaults for
// any unset identity fields.
func NewServer(cfg ServerConfig, broker *messagequeue.Broker, logger zerolog.Logger) (*Server, error) {
	if broker == nil {
		return nil, errors.New("broker cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "message-queue"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	return &Server{
		name:    cfg.Name,
		version: cfg.Version,
		broker:  broker,
		caps:    defaultCapabilities(),
		logger:  logger.With().Str("component", "MCPServer").Logger(),
	}, nil
}

// HandleRequest processes one request envelope and always produces a
// response, reporting failures through the error member rather than Go
// errors so the transport can stay a dumb pipe.
func (s *Server) HandleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC == "" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	s.logger.Debug().Str("method", req.Method).Msg("Handling request.")

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/call":
		return s.handleToolCall(ctx, req)
	case "resources/read":
		return s.handleResourceRead(ctx, req)
	case "resources/list":
		return resultResponse(req.ID, resourceListResult{Resources: s.caps.Resources})
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      serverInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

func (s *Server) handleInitialize(req Request) Response {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		// Initialize params are optional; a client that sends none still
		// gets the capability listing.
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.ProtocolVersion == "" {
		params.ProtocolVersion = defaultProtocolVersion
	}

	s.logger.Info().
		Str("client_name", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Msg("Client connected.")

	return resultResponse(req.ID, initializeResult{
		ProtocolVersion: params.ProtocolVersion,
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
		Capabilities:    s.caps,
	})
}

func (s *Server) handleToolCall(ctx context.Context, req Request) Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("Invalid params: %s", err))
		}
	}

	switch params.Name {
	case "publish_message":
		return s.publishMessage(ctx, req.ID, params.Arguments)
	case "subscribe_channel":
		return s.subscribeChannel(ctx, req.ID, params.Arguments)
	case "unsubscribe_channel":
		return s.unsubscribeChannel(ctx, req.ID, params.Arguments)
	case "get_messages":
		return s.getMessages(ctx, req.ID, params.Arguments)
	case "acknowledge_message":
		return s.acknowledgeMessage(ctx, req.ID, params.Arguments)
	case "get_performance_metrics":
		return resultResponse(req.ID, s.broker.Metrics(ctx))
	case "list_channels":
		return s.listChannels(ctx, req.ID)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown tool: %s", params.Name))
	}
}

func (s *Server) publishMessage(ctx context.Context, id interface{}, arguments json.RawMessage) Response {
	var args struct {
		Channel    string      `json:"channel"`
		Content    interface{} `json:"content"`
		Sender     string      `json:"sender"`
		Priority   int         `json:"priority"`
		TTLSeconds float64     `json:"ttl_seconds"`
	}
	if err := unmarshalArguments(arguments, &args); err != nil {
		return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Invalid arguments: %s", err))
	}

	receipt, err := s.broker.Publish(ctx, messagequeue.PublishRequest{
		Channel:  args.Channel,
		Content:  args.Content,
		Sender:   args.Sender,
		Priority: args.Priority,
		TTL:      time.Duration(args.TTLSeconds * float64(time.Second)),
	})
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, receipt)
}

func (s *Server) subscribeChannel(ctx context.Context, id interface{}, arguments json.RawMessage) Response {
	var args struct {
		Channel string                 `json:"channel"`
		AgentID string                 `json:"agent_id"`
		Filters map[string]interface{} `json:"filters"`
	}
	if err := unmarshalArguments(arguments, &args); err != nil {
		return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Invalid arguments: %s", err))
	}

	result, err := s.broker.Subscribe(ctx, args.Channel, args.AgentID, args.Filters)
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, result)
}

func (s *Server) unsubscribeChannel(ctx context.Context, id interface{}, arguments json.RawMessage) Response {
	var args struct {
		Channel string `json:"channel"`
		AgentID string `json:"agent_id"`
	}
	if err := unmarshalArguments(arguments, &args); err != nil {
		return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Invalid arguments: %s", err))
	}

	result, err := s.broker.Unsubscribe(ctx, args.Channel, args.AgentID)
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, result)
}

type getMessagesResult struct {
	AgentID  string           `json:"agent_id"`
	Messages []types.Delivery `json:"messages"`
	Count    int              `json:"count"`
}

func (s *Server) getMessages(ctx context.Context, id interface{}, arguments json.RawMessage) Response {
	var args struct {
		AgentID string `json:"agent_id"`
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if err := unmarshalArguments(arguments, &args); err != nil {
		return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Invalid arguments: %s", err))
	}

	deliveries, err := s.broker.GetMessages(ctx, args.AgentID, messagequeue.GetOptions{
		Channel: args.Channel,
		Limit:   args.Limit,
	})
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, getMessagesResult{
		AgentID:  args.AgentID,
		Messages: deliveries,
		Count:    len(deliveries),
	})
}

func (s *Server) acknowledgeMessage(ctx context.Context, id interface{}, arguments json.RawMessage) Response {
	var args struct {
		MessageID string `json:"message_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := unmarshalArguments(arguments, &args); err != nil {
		return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Invalid arguments: %s", err))
	}

	result, err := s.broker.Acknowledge(ctx, args.MessageID, args.AgentID)
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, result)
}

type listChannelsResult struct {
	Channels      []types.ChannelInfo `json:"channels"`
	TotalChannels int                 `json:"total_channels"`
}

func (s *Server) listChannels(ctx context.Context, id interface{}) Response {
	infos, err := s.broker.ListChannels(ctx)
	if err != nil {
		return s.requestError(id, err)
	}
	return resultResponse(id, listChannelsResult{Channels: infos, TotalChannels: len(infos)})
}

type resourceListResult struct {
	Resources []ResourceDefinition `json:"resources"`
}

type resourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type resourceReadResult struct {
	Contents []resourceContent `json:"contents"`
}

type channelResource struct {
	Subscribers  []string `json:"subscribers"`
	MessageCount int      `json:"message_count"`
}

func (s *Server) handleResourceRead(ctx context.Context, req Request) Response {
	var params struct {
		URI string `json:"uri"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("Invalid params: %s", err))
		}
	}

	var payload interface{}
	switch params.URI {
	case MetricsResourceURI:
		payload = s.broker.Metrics(ctx)
	case ChannelsResourceURI:
		infos, err := s.broker.ListChannels(ctx)
		if err != nil {
			return s.requestError(req.ID, err)
		}
		channels := make(map[string]channelResource, len(infos))
		for _, info := range infos {
			channels[info.Name] = channelResource{
				Subscribers:  info.Subscribers,
				MessageCount: info.MessageCount,
			}
		}
		payload = channels
	default:
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("Unknown resource: %s", params.URI))
	}

	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Internal error: %s", err))
	}
	return resultResponse(req.ID, resourceReadResult{
		Contents: []resourceContent{{URI: params.URI, MimeType: "application/json", Text: string(text)}},
	})
}

// requestError maps broker failures onto the wire. Validation sentinels
// come back as invalid params naming the offending argument; anything else
// is an internal error.
func (s *Server) requestError(id interface{}, err error) Response {
	var param string
	switch {
	case errors.Is(err, messagequeue.ErrEmptyChannel):
		param = "channel"
	case errors.Is(err, messagequeue.ErrNilContent):
		param = "content"
	case errors.Is(err, messagequeue.ErrEmptySender):
		param = "sender"
	case errors.Is(err, messagequeue.ErrEmptyAgentID):
		param = "agent_id"
	case errors.Is(err, messagequeue.ErrEmptyMessageID):
		param = "message_id"
	default:
		s.logger.Error().Err(err).Msg("Request failed.")
		return errorResponse(id, CodeInternalError, fmt.Sprintf("Internal error: %s", err))
	}
	return errorResponse(id, CodeInvalidParams, fmt.Sprintf("Missing parameter: %s", param))
}

func unmarshalArguments(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
