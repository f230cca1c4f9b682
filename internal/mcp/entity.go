package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-search/internal/search"
	"github.com/sha1n/relic-search/internal/store"
)

// GetEntityArgument identifies one stored entity.
type GetEntityArgument struct {
	Entity string `json:"entity" jsonschema_description:"Entity type (e.g. Departments)"`
	ID     uint64 `json:"id" jsonschema_description:"Entity id as returned by search_entities"`
}

// GetEntityHandler handles the get_entity MCP tool.
type GetEntityHandler struct {
	engine *search.Engine
}

// NewGetEntityHandler creates a new get_entity handler.
func NewGetEntityHandler(engine *search.Engine) *GetEntityHandler {
	return &GetEntityHandler{engine: engine}
}

// Handle loads the entity from the store and returns it as JSON.
func (h *GetEntityHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args GetEntityArgument) (*mcp.CallToolResult, any, error) {
	if args.Entity == "" {
		return errorResult("Entity cannot be empty"), nil, nil
	}
	if args.ID == 0 {
		return errorResult("Id must be a positive number"), nil, nil
	}
	if !h.engine.DB().IsRegistered(args.Entity) {
		return errorResult(fmt.Sprintf("Unknown entity %q", args.Entity)), nil, nil
	}

	session := h.engine.DB().OpenSession()
	defer func() { _ = session.Close() }()

	e, err := session.Get(args.Entity, args.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResult(fmt.Sprintf("%s/%d not found", args.Entity, args.ID)), nil, nil
		}
		return errorResult(fmt.Sprintf("Failed to load entity: %s", err)), nil, nil
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to encode entity: %s", err)), nil, nil
	}
	return textResult(string(data)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *GetEntityHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_entity",
		Description: "Load a stored entity by type and id",
	}
}

// RegisterGetEntityTool registers the get_entity tool with an MCP server.
func RegisterGetEntityTool(server *mcp.Server, engine *search.Engine) {
	handler := NewGetEntityHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
