package mcp_test

import (
	"context"
	"iter"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/repository"
	"github.com/m-mizutani/docqa/pkg/service/mcp"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/usecase/chunk"
	"github.com/m-mizutani/docqa/pkg/usecase/extract"
	"github.com/m-mizutani/docqa/pkg/usecase/index"
	"github.com/m-mizutani/docqa/pkg/usecase/pipeline"
	"github.com/m-mizutani/docqa/pkg/utils/testutil"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newServer(t *testing.T) *mcp.Server {
	server, _ := newServerWithLLM(t)
	return server
}

func newServerWithLLM(t *testing.T) (*mcp.Server, *testutil.MockLLM) {
	t.Helper()
	ctx := context.Background()

	llm := &testutil.MockLLM{
		Dimension: 64,
		StreamFunc: func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
			if strings.Contains(prompt.System, "March 5") {
				return testutil.Fragments("The deadline is ", "March 5.")
			}
			return testutil.Fragments(chat.RefusalMessage)
		},
	}

	chunker, err := chunk.New(testutil.RuneTokenizer{}, 200, 20)
	gt.NoError(t, err)
	idx, err := index.New(repository.NewMemory(), llm).EnsureIndex(ctx, index.DefaultName, 64)
	gt.NoError(t, err)

	p := pipeline.New(extract.New(), chunker, idx, chat.NewRewriter(llm), chat.NewAnswerer(llm))
	return mcp.NewServer(p, "test"), llm
}

func connect(t *testing.T, server *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return text.Text, result.IsError
}

func writePDF(t *testing.T, name string, pages ...string) string {
	path := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(path, testutil.PDF(t, pages...), 0600))
	return path
}

func TestListTools(t *testing.T) {
	cs := connect(t, newServer(t))

	tools, err := cs.ListTools(context.Background(), nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(2)

	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	gt.True(t, names[mcp.ToolIngestDocument])
	gt.True(t, names[mcp.ToolAsk])
}

func TestIngestAndAsk(t *testing.T) {
	server := newServer(t)
	cs := connect(t, server)
	path := writePDF(t, "plan.pdf", "The project deadline is March 5.")

	text, isError := callText(t, cs, mcp.ToolIngestDocument, map[string]any{"path": path})
	gt.False(t, isError)
	gt.Equal(t, text, "plan.pdf: 1 chunk(s) indexed")

	text, isError = callText(t, cs, mcp.ToolIngestDocument, map[string]any{"path": path})
	gt.False(t, isError)
	gt.S(t, text).Contains("already indexed")

	text, isError = callText(t, cs, mcp.ToolAsk, map[string]any{"question": "When is the deadline?"})
	gt.False(t, isError)
	gt.Equal(t, text, "The deadline is March 5.")
	gt.Equal(t, server.Sessions(), 1)
}

func TestConversationsAreIsolatedPerClient(t *testing.T) {
	server, llm := newServerWithLLM(t)
	alice := connect(t, server)
	bob := connect(t, server)
	path := writePDF(t, "calendar.pdf", "The March meetings are on March 3 and March 17.")

	_, isError := callText(t, alice, mcp.ToolIngestDocument, map[string]any{"path": path})
	gt.False(t, isError)
	_, isError = callText(t, alice, mcp.ToolAsk, map[string]any{"question": "When are the March meetings?"})
	gt.False(t, isError)

	// no history of its own, so the question is not rewritten
	_, isError = callText(t, bob, mcp.ToolAsk, map[string]any{"question": "What about April?"})
	gt.False(t, isError)
	gt.A(t, llm.CompletePrompts()).Length(0)

	// uploads are tracked per conversation
	text, isError := callText(t, bob, mcp.ToolIngestDocument, map[string]any{"path": path})
	gt.False(t, isError)
	gt.S(t, text).NotContains("already indexed")
	gt.Equal(t, server.Sessions(), 2)

	// alice has history, so her follow-up is rewritten
	_, isError = callText(t, alice, mcp.ToolAsk, map[string]any{"question": "What about April?"})
	gt.False(t, isError)
	gt.A(t, llm.CompletePrompts()).Length(1)
	gt.S(t, llm.CompletePrompts()[0].User).Contains("March meetings")
}

func TestConversationEndsOnDisconnect(t *testing.T) {
	server := newServer(t)
	ctx := context.Background()

	ct, st := mcpsdk.NewInMemoryTransports()
	_, err := server.Connect(ctx, st)
	gt.NoError(t, err)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	gt.NoError(t, err)

	_, isError := callText(t, cs, mcp.ToolAsk, map[string]any{"question": "When is the deadline?"})
	gt.False(t, isError)
	gt.Equal(t, server.Sessions(), 1)

	gt.NoError(t, cs.Close())
	deadline := time.Now().Add(5 * time.Second)
	for server.Sessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	gt.Equal(t, server.Sessions(), 0)
}

func TestToolFailuresAreResults(t *testing.T) {
	cs := connect(t, newServer(t))

	t.Run("missing file", func(t *testing.T) {
		text, isError := callText(t, cs, mcp.ToolIngestDocument, map[string]any{
			"path": filepath.Join(t.TempDir(), "missing.pdf"),
		})
		gt.True(t, isError)
		gt.S(t, text).Contains("missing.pdf")
	})

	t.Run("corrupt document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.pdf")
		gt.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 broken"), 0600))

		text, isError := callText(t, cs, mcp.ToolIngestDocument, map[string]any{"path": path})
		gt.True(t, isError)
		gt.S(t, text).Contains("Could not read the document")
	})

	t.Run("empty question", func(t *testing.T) {
		_, isError := callText(t, cs, mcp.ToolAsk, map[string]any{"question": "  "})
		gt.True(t, isError)
	})
}

func TestHTTPTransport(t *testing.T) {
	ctx := context.Background()
	testServer := httptest.NewServer(newServer(t).Handler())
	defer testServer.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: testServer.URL}, nil)
	gt.NoError(t, err)
	defer cs.Close()

	text, isError := callText(t, cs, mcp.ToolAsk, map[string]any{"question": "When is the deadline?"})
	gt.False(t, isError)
	gt.Equal(t, text, chat.RefusalMessage)
}
