// Package mcpadapter exposes the proposal service as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

const (
	ToolGenerateProposal = "generate_proposal"
	ToolSearchProposals  = "search_proposals"

	maxTopK = 50
)

type Server struct {
	proposals ports.ProposalService
	mcp       *server.MCPServer
}

func NewServer(proposals ports.ProposalService, version string) *Server {
	s := &Server{
		proposals: proposals,
		mcp:       server.NewMCPServer("proposal-rag", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(ToolGenerateProposal,
		mcp.WithDescription("Draft a proposal for a request, grounded in similar past proposals."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The request to write a proposal for.")),
	), s.generateProposal)

	s.mcp.AddTool(mcp.NewTool(ToolSearchProposals,
		mcp.WithDescription("Find past proposal excerpts most similar to a request."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Search text.")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of excerpts; defaults to the configured top-K.")),
	), s.searchProposals)

	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) generateProposal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.proposals.Answer(ctx, question)
	if err != nil {
		return toolError(ToolGenerateProposal, err), nil
	}
	return mcp.NewToolResultText(answer.PlainText()), nil
}

type searchResult struct {
	Items []domain.RetrievedChunk `json:"items"`
}

func (s *Server) searchProposals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := request.GetInt("top_k", 0)
	if topK < 0 || topK > maxTopK {
		return mcp.NewToolResultError("top_k must be between 1 and 50"), nil
	}
	chunks, err := s.proposals.Retrieve(ctx, question, topK)
	if err != nil {
		return toolError(ToolSearchProposals, err), nil
	}
	raw, err := json.Marshal(searchResult{Items: chunks})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// toolError turns a service failure into an error result. 5xx-class details
// stay in the log.
func toolError(tool string, err error) *mcp.CallToolResult {
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return mcp.NewToolResultError(err.Error())
	}
	slog.Error("mcp_tool_failed", "tool", tool, "error", err.Error())
	switch {
	case domain.IsKind(err, domain.ErrTemporary):
		return mcp.NewToolResultError("dependency temporarily unavailable, retry later")
	case domain.IsKind(err, domain.ErrModel):
		return mcp.NewToolResultError("model call failed")
	case domain.IsKind(err, domain.ErrRetrieval):
		return mcp.NewToolResultError("proposal search failed")
	default:
		return mcp.NewToolResultError("internal error")
	}
}
