package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("ask_manual",
		mcp.WithDescription("Answer a question from the indexed technical manuals with numbered, step-by-step instructions."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("What the user wants to do, e.g. 'How do I post an announcement?'"),
		),
	), s.handleAsk)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List indexed manuals with their chunk and image counts."),
	), s.handleListDocuments)

	s.mcp.AddTool(mcp.NewTool("queue_status",
		mcp.WithDescription("Report progress of background image description."),
	), s.handleQueueStatus)
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	stream, err := s.ports.Answerer.Ask(ctx, question)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}
	answer, err := stream.Collect()
	if err != nil {
		if answer == "" {
			return mcp.NewToolResultError(fmt.Sprintf("answer generation failed: %v", err)), nil
		}
		answer += "\n\n(answer incomplete: " + err.Error() + ")"
	}

	var b strings.Builder
	b.WriteString(answer)
	if len(stream.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		seen := make(map[string]struct{})
		for _, src := range stream.Sources {
			if _, ok := seen[src.Filename]; ok {
				continue
			}
			seen[src.Filename] = struct{}{}
			fmt.Fprintf(&b, "- %s\n", src.Filename)
		}
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.ports.Documents.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list documents failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleQueueStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.ports.Queue.QueueStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("queue status failed: %v", err)), nil
	}
	return jsonResult(status)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
