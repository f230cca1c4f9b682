package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-search/internal/search"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query        string `json:"query" jsonschema_description:"Query string, e.g. branchnetwork:layton 2B or equiptype:Cisco"`
	DefaultField string `json:"default_field,omitempty" jsonschema_description:"Field searched by clauses without a field prefix"`
	Entity       string `json:"entity,omitempty" jsonschema_description:"Restrict the search to one entity type (e.g. Department)"`
	MaxResults   int    `json:"max_results,omitempty" jsonschema_description:"Maximum number of hits to return"`
}

// SearchHandler handles the search_entities MCP tool.
type SearchHandler struct {
	engine *search.Engine
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{
		engine: engine,
	}
}

// Handle parses the query, runs it and returns the formatted hits.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	var entities []string
	if args.Entity != "" {
		if _, err := h.engine.Mapping(args.Entity); err != nil {
			return errorResult(fmt.Sprintf("Unknown entity %q. Indexed entities: %s", args.Entity, strings.Join(h.engine.EntityNames(), ", "))), nil, nil
		}
		entities = []string{args.Entity}
	}

	// Each clause keeps the analyzer of the field it searches.
	parser := search.NewQueryParser(args.DefaultField, "")
	q, err := parser.Parse(args.Query)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid query: %s", err)), nil, nil
	}

	session := h.engine.DB().OpenSession()
	defer func() { _ = session.Close() }()

	fields := h.storedFields(entities)
	projection := append([]string{search.ProjectionEntity, search.ProjectionID, search.ProjectionScore}, fields...)

	ftq := h.engine.FullTextSession(session).CreateFullTextQuery(q, entities...)
	if args.MaxResults > 0 {
		ftq.SetMaxResults(args.MaxResults)
	}

	total, err := ftq.ResultSize(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}
	rows, err := ftq.SetProjection(projection...).Projection(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return formatHits(args.Query, total, fields, rows), nil, nil
}

// storedFields returns the union of stored fields of the given entity types,
// or of every indexed type when none are given.
func (h *SearchHandler) storedFields(entities []string) []string {
	if len(entities) == 0 {
		entities = h.engine.EntityNames()
	}
	var fields []string
	for _, name := range entities {
		m, err := h.engine.Mapping(name)
		if err != nil {
			continue
		}
		for _, f := range m.StoredFields() {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// formatHits renders projection rows laid out as entity, id, score, fields.
func formatHits(queryStr string, total uint64, fields []string, rows [][]any) *mcp.CallToolResult {
	if total == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", queryStr))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", total, queryStr))

	for i, row := range rows {
		sb.WriteString(fmt.Sprintf("### %d. %v/%v\n", i+1, row[0], row[1]))
		sb.WriteString(fmt.Sprintf("**Score**: %.4f\n", row[2]))
		for j, name := range fields {
			value := row[3+j]
			if value == nil {
				continue
			}
			sb.WriteString(fmt.Sprintf("- %s: %v\n", name, value))
		}
		sb.WriteString("\n")
	}

	if total > uint64(len(rows)) {
		sb.WriteString(fmt.Sprintf("... and %d more results\n", total-uint64(len(rows))))
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_entities",
		Description: "Search indexed entities with a full-text query string, including fields derived by class bridges",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, engine *search.Engine) {
	handler := NewSearchHandler(engine)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
