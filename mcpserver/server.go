package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/casegen/config"
	"github.com/isdmx/casegen/generator"
	"github.com/isdmx/casegen/languages"
	"github.com/isdmx/casegen/sandbox"
)

// Generator is the part of generator.Service the MCP tools use.
type Generator interface {
	Generate(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Outcome, error)
	Languages() []languages.LanguageInfo
	Scaffold(language string, inputs []sandbox.TypeTag, output sandbox.TypeTag) (string, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	generator  Generator
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, gen Generator) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		generator: gen,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.rest_port", cfg.Server.RESTPort),
		zap.String("docker.languages_dir", cfg.Docker.LanguagesDir),
		zap.String("docker.network_name", cfg.Docker.NetworkName),
		zap.Float64("docker.cpus", cfg.Docker.CPUs),
		zap.Int("docker.memory_mb", cfg.Docker.MemoryMB),
		zap.Int("docker.timeout_sec", cfg.Docker.TimeoutSec),
	)

	s.mcpServer = server.NewMCPServer("casegen", "1.0.0", server.WithToolCapabilities(false))
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	s.registerGenerateTool()
	s.registerListLanguagesTool()
	s.registerTemplateTool()

	return s, nil
}

func (s *MCPServer) languageNames() []string {
	var names []string
	for _, l := range s.generator.Languages() {
		if l.Category == languages.Scripting {
			names = append(names, l.Name)
		}
	}
	return names
}

var typeEnum = []string{string(sandbox.TypeInt), string(sandbox.TypeFloat), string(sandbox.TypeString)}

func (s *MCPServer) registerGenerateTool() {
	tool := mcp.Tool{
		Name:        "generate_test_cases",
		Description: "Run a test case generator in a sandbox and return the generated cases",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Generator language",
					"enum":        s.languageNames(),
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Generator source code defining generate()",
				},
				"inputs": map[string]any{
					"type":        "array",
					"description": "Input types of each case, in order",
					"items":       map[string]any{"type": "string", "enum": typeEnum},
				},
				"output": map[string]any{
					"type":        "string",
					"description": "Output type of each case",
					"enum":        typeEnum,
				},
				"generate_cases": map[string]any{
					"type":        "integer",
					"description": "Number of cases to generate",
					"minimum":     1,
					"maximum":     math.MaxUint16,
				},
				"visible_cases": map[string]any{
					"type":        "integer",
					"description": "Number of cases shown to solvers",
					"minimum":     0,
				},
				"hidden_cases": map[string]any{
					"type":        "integer",
					"description": "Number of cases kept hidden",
					"minimum":     0,
				},
			},
			Required: []string{"language", "content", "inputs", "output", "generate_cases"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGenerate)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.NewTool("list_languages",
		mcp.WithDescription("List the languages generators can be written in"),
	)
	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

func (s *MCPServer) registerTemplateTool() {
	tool := mcp.NewTool("generator_template",
		mcp.WithDescription("Starter generator code for a language and type signature"),
		mcp.WithString("language", mcp.Required(), mcp.Enum(s.languageNames()...)),
		mcp.WithArray("inputs", mcp.Required(), mcp.Items(map[string]any{"type": "string", "enum": typeEnum})),
		mcp.WithString("output", mcp.Required(), mcp.Enum(typeEnum...)),
	)
	s.mcpServer.AddTool(tool, s.handleTemplate)
}

func (s *MCPServer) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := parseExecutionRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("test case generation requested",
		zap.String("language", req.Language),
		zap.Uint16("generate_cases", req.GenerateCases))

	outcome, err := s.generator.Generate(ctx, req)
	if err != nil {
		return s.errorResult(err, req.Language), nil
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
	}, nil
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(s.generator.Languages())
	if err != nil {
		return nil, fmt.Errorf("failed to encode languages: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *MCPServer) handleTemplate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	inputs, err := typeTags(request.GetStringSlice("inputs", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	src, err := s.generator.Scaffold(language, inputs, sandbox.TypeTag(output))
	if err != nil {
		return s.errorResult(err, language), nil
	}
	return mcp.NewToolResultText(src), nil
}

// errorResult reports validation errors verbatim and hides everything else.
func (s *MCPServer) errorResult(err error, language string) *mcp.CallToolResult {
	if generator.IsValidation(err) {
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error("tool call failed", zap.String("language", language), zap.Error(err))
	return mcp.NewToolResultError("internal error")
}

func parseExecutionRequest(request mcp.CallToolRequest) (sandbox.ExecutionRequest, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return sandbox.ExecutionRequest{}, err
	}
	content, err := request.RequireString("content")
	if err != nil {
		return sandbox.ExecutionRequest{}, err
	}
	inputs, err := typeTags(request.GetStringSlice("inputs", nil))
	if err != nil {
		return sandbox.ExecutionRequest{}, err
	}
	output, err := request.RequireString("output")
	if err != nil {
		return sandbox.ExecutionRequest{}, err
	}

	counts := make(map[string]uint16, 3)
	for _, key := range []string{"generate_cases", "visible_cases", "hidden_cases"} {
		n := request.GetInt(key, 0)
		if n < 0 || n > math.MaxUint16 {
			return sandbox.ExecutionRequest{}, fmt.Errorf("%s must be between 0 and %d", key, math.MaxUint16)
		}
		counts[key] = uint16(n)
	}

	return sandbox.ExecutionRequest{
		Content:       content,
		Language:      language,
		Inputs:        inputs,
		Output:        sandbox.TypeTag(output),
		GenerateCases: counts["generate_cases"],
		VisibleCases:  counts["visible_cases"],
		HiddenCases:   counts["hidden_cases"],
	}, nil
}

func typeTags(raw []string) ([]sandbox.TypeTag, error) {
	tags := make([]sandbox.TypeTag, len(raw))
	for i, r := range raw {
		tag := sandbox.TypeTag(r)
		if !tag.Valid() {
			return nil, fmt.Errorf("%w: input %d has type %q", generator.ErrInvalidType, i, r)
		}
		tags[i] = tag
	}
	return tags, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	err := s.httpServer.Start(fmt.Sprintf(":%d", port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP transport.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
