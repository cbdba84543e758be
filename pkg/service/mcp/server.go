// Package mcp exposes the document pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolIngestDocument = "ingest_document"
	ToolAsk            = "ask"
)

type Pipeline interface {
	Ingest(ctx context.Context, sess *chat.Session, uploads ...*model.Upload) []*model.IngestResult
	Reply(ctx context.Context, sess *chat.Session, query string, onFragment func(string)) (string, error)
}

// Server keeps one conversation per connected MCP client. A conversation
// starts with the client's first tool call and ends when it disconnects.
type Server struct {
	pipeline Pipeline
	server   *mcp.Server

	mu       sync.Mutex
	sessions map[*mcp.ServerSession]*conversation
}

type conversation struct {
	// requests of a session are handled one at a time
	mu      sync.Mutex
	session *chat.Session
}

type IngestDocumentParams struct {
	Path string `json:"path" jsonschema:"Path of the PDF document to index"`
}

type AskParams struct {
	Question string `json:"question" jsonschema:"Question about the indexed documents"`
}

// NewServer creates an MCP server with the ingest_document and ask tools
func NewServer(p Pipeline, version string) *Server {
	s := &Server{
		pipeline: p,
		sessions: make(map[*mcp.ServerSession]*conversation),
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "docqa",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolIngestDocument,
		Description: "Index a PDF document so that questions can be answered from it",
	}, s.ingestDocument)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolAsk,
		Description: "Answer a question from the indexed documents. Follow-up questions may refer to earlier ones.",
	}, s.ask)

	return s
}

// Sessions is the number of conversations currently held.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// conversationOf returns the conversation of a connected client, creating
// it on the first call.
func (s *Server) conversationOf(ctx context.Context, ss *mcp.ServerSession) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.sessions[ss]; ok {
		return conv
	}

	conv := &conversation{session: chat.NewSession()}
	s.sessions[ss] = conv
	logging.From(ctx).Debug("conversation started", "session_id", conv.session.ID())

	if ss != nil {
		go func() {
			_ = ss.Wait()
			s.mu.Lock()
			delete(s.sessions, ss)
			s.mu.Unlock()
		}()
	}
	return conv
}

// Run serves on transport until the client disconnects or ctx is done
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.server.Run(ctx, transport); err != nil {
		return goerr.Wrap(err, "MCP server failed")
	}
	return nil
}

// Connect starts one session on transport without blocking
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	ss, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect MCP session")
	}
	return ss, nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: isError,
	}
}

func (s *Server) ingestDocument(ctx context.Context, req *mcp.CallToolRequest, params *IngestDocumentParams) (*mcp.CallToolResult, any, error) {
	path := strings.TrimSpace(params.Path)
	if path == "" {
		return textResult("path is required", true), nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logging.From(ctx).Warn("failed to read document", "path", path, "error", err)
		return textResult(fmt.Sprintf("Could not open %s: %v", path, err), true), nil, nil
	}

	conv := s.conversationOf(ctx, req.Session)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	results := s.pipeline.Ingest(ctx, conv.session, &model.Upload{
		Filename: filepath.Base(path),
		Data:     data,
	})
	r := results[0]

	switch {
	case r.Err != nil:
		return textResult(model.UserMessage(r.Err), true), nil, nil
	case r.Skipped:
		return textResult(fmt.Sprintf("%s is already indexed", r.Filename), false), nil, nil
	default:
		return textResult(fmt.Sprintf("%s: %d chunk(s) indexed", r.Filename, r.Chunks), false), nil, nil
	}
}

func (s *Server) ask(ctx context.Context, req *mcp.CallToolRequest, params *AskParams) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return textResult("question is required", true), nil, nil
	}

	conv := s.conversationOf(ctx, req.Session)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	answer, err := s.pipeline.Reply(ctx, conv.session, question, nil)
	if err != nil {
		logging.From(ctx).Warn("failed to answer", "error", err)
		return textResult(model.UserMessage(err), true), nil, nil
	}
	return textResult(answer, false), nil, nil
}
