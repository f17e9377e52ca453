// Package mcp exposes incident analysis as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/mcp/tools"
)

// Tool defines the interface for tool implementations
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// ServerOptions configures the MCP server
type ServerOptions struct {
	Analyzer   tools.Analyzer
	Corpus     tools.Counter
	Cache      tools.CacheReporter // optional
	Backend    string
	Collection string
	Version    string
}

// SleuthServer wraps the mcp-go server with the incident analysis tools
type SleuthServer struct {
	mcpServer *server.MCPServer
	tools     map[string]Tool
	version   string
	logger    *logging.Logger
}

// NewServer creates a new MCP server
func NewServer(opts ServerOptions) (*SleuthServer, error) {
	if opts.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if opts.Corpus == nil {
		return nil, errors.New("corpus is required")
	}

	mcpServer := server.NewMCPServer(
		"Sleuth MCP Server",
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
		server.WithLogging(),
	)

	s := &SleuthServer{
		mcpServer: mcpServer,
		tools:     make(map[string]Tool),
		version:   opts.Version,
		logger:    logging.GetLogger("mcp"),
	}

	s.registerTools(opts)
	s.registerPrompts()

	return s, nil
}

func (s *SleuthServer) registerTools(opts ServerOptions) {
	s.registerTool(
		"analyze_incident",
		"Analyze an IT incident: root cause (category, component, impact, solution, prevention) "+
			"plus the most similar resolved historical incidents and how they were fixed",
		tools.NewAnalyzeIncidentTool(opts.Analyzer),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Free-text description of the incident",
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"description": "Optional: structured incident details, joined as 'key: value' when description is empty",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"key":   map[string]interface{}{"type": "string"},
							"value": map[string]interface{}{"type": "string"},
						},
						"required": []string{"key", "value"},
					},
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Optional: minimum similarity score 0-100 (default 50)",
				},
				"max_similar": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: maximum number of similar incidents (default 2)",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"json", "markdown"},
					"description": "Optional: result format (default json)",
				},
			},
		},
	)

	s.registerTool(
		"corpus_stats",
		"Report the size of the historical incident corpus and query cache statistics",
		tools.NewCorpusStatsTool(opts.Corpus, opts.Cache, opts.Backend, opts.Collection),
		map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	)
}

func (s *SleuthServer) registerTool(name, description string, tool Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal schema for tool %s: %v", name, err))
	}

	mcpTool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(mcpTool, s.createToolHandler(name, tool))
}

func (s *SleuthServer) createToolHandler(name string, tool Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("Tool %s failed: %v", name, err)
			return mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err)), nil
		}

		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func (s *SleuthServer) registerPrompts() {
	triagePrompt := mcp.Prompt{
		Name:        "triage_incident",
		Description: "Triage a new incident using root-cause analysis and similar past incidents",
		Arguments: []mcp.PromptArgument{
			{Name: "description", Description: "What is happening: symptoms, affected service, recent changes", Required: true},
			{Name: "urgency", Description: "Optional urgency (e.g. P1, low)", Required: false},
		},
	}

	s.mcpServer.AddPrompt(triagePrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return TriagePrompt(request.Params.Arguments["description"], request.Params.Arguments["urgency"])
	})
}

// TriagePrompt builds the triage_incident prompt.
func TriagePrompt(description, urgency string) (*mcp.GetPromptResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("description is required")
	}

	text := "Triage the following incident. Call the analyze_incident tool with the description to get " +
		"the root-cause analysis and the most similar resolved incidents. Then summarise the likely " +
		"cause and the first actions to take based on how the similar incidents were resolved, and " +
		"name the teams that handled them."
	if u := strings.TrimSpace(urgency); u != "" {
		text += fmt.Sprintf(" Urgency: %s.", u)
	}
	text += "\n\nIncident: " + description

	return &mcp.GetPromptResult{
		Description: "Incident triage workflow",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		},
	}, nil
}

// GetMCPServer returns the underlying mcp-go server for transport setup
func (s *SleuthServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until stdin closes.
func (s *SleuthServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler returns a stateless streamable HTTP handler mounted at
// endpointPath.
func (s *SleuthServer) HTTPHandler(endpointPath string) http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	)
}
