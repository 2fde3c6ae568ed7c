package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/srhkb/kbchat/internal/knowledge"
	"github.com/srhkb/kbchat/internal/pipeline"
)

// MCPRetriever abstracts multi-variant semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, variants []string, filters knowledge.Filters, topK int) []knowledge.SearchResult
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline  Asker
	Retriever MCPRetriever
	Summary   Summarizer
	TopK      int
}

// NewMCPServer creates an MCP server exposing the knowledge-base assistant
// as tools over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kbchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("kbchat: retrieval-augmented assistant over the SRH Hochschule Heidelberg knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question. Answers from the knowledge base when the question is in scope, from general knowledge otherwise."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the knowledge base and return ranked entries without generating an answer."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("knowledge_summary",
			mcp.WithDescription("Describe what the knowledge base contains: entry count, top categories, and key topics."),
		),
		mcpKnowledgeSummary(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		resp := deps.Pipeline.Ask(ctx, pipeline.Request{Text: question})
		if resp.Kind == pipeline.KindError {
			return mcpError(resp.Content), nil
		}

		b, err := json.Marshal(toChatResponse(resp))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.TopK)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results := deps.Retriever.Retrieve(ctx, []string{q}, knowledge.Filters{}, limit)
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		out := make([]ChatResult, len(results))
		for i, res := range results {
			out[i] = ChatResult{
				Content:  res.Content,
				Score:    res.Score,
				Category: res.Category,
				Source:   res.Source,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpKnowledgeSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := deps.Summary.Summary()
		if err != nil {
			return mcpError(fmt.Sprintf("summary failed: %v", err)), nil
		}
		return mcpText(summary), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
