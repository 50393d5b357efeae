package mcpadapter

import (
	"context"
	"errors"
	"io"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

const (
	serverName    = "manual-assistant"
	serverVersion = "1.0.0"
)

// Ports are the core services exposed as MCP tools.
type Ports struct {
	Answerer  ports.QuestionAnswerer
	Documents ports.DocumentLister
	Queue     ports.QueueStatusReader
}

func (p Ports) validate() error {
	if p.Answerer == nil || p.Documents == nil || p.Queue == nil {
		return errors.New("mcp: answerer, documents and queue ports are required")
	}
	return nil
}

type Server struct {
	ports Ports
	mcp   *server.MCPServer
}

func NewServer(p Ports) (*Server, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		ports: p,
		mcp: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over the given streams until ctx is cancelled or the
// client closes stdin.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}
