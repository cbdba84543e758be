package chat_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/utils/testutil"
	"github.com/m-mizutani/gt"
)

var marchExchange = []model.Turn{
	{Role: model.RoleUser, Content: "When are the March meetings?"},
	{Role: model.RoleAssistant, Content: "The March meetings are on March 3 and March 17."},
}

func TestRewriteWithoutHistoryIsIdentity(t *testing.T) {
	llm := &testutil.MockLLM{}
	r := chat.NewRewriter(llm)

	for _, q := range []string{
		"What is the capital of France?",
		"When is the deadline?",
		"Explain more about it.",
		"",
	} {
		got, err := r.Rewrite(context.Background(), q, nil)
		gt.NoError(t, err)
		gt.Equal(t, got, q)
	}
	gt.A(t, llm.CompletePrompts()).Length(0)
}

func TestRewriteFollowUp(t *testing.T) {
	llm := &testutil.MockLLM{
		CompleteFunc: func(ctx context.Context, prompt *adapter.Prompt) (string, error) {
			return "Rephrased question: When are the April meetings?", nil
		},
	}
	r := chat.NewRewriter(llm, chat.WithRewriteTemperature(0.2))

	got, err := r.Rewrite(context.Background(), "What about April?", marchExchange)
	gt.NoError(t, err)
	gt.S(t, got).Contains("April")
	gt.S(t, got).Contains("meetings")
	gt.S(t, got).NotContains("Rephrased")

	prompts := llm.CompletePrompts()
	gt.A(t, prompts).Length(1)
	gt.S(t, prompts[0].System).Contains("Never answer the User Query")
	gt.S(t, prompts[0].User).Contains("User: When are the March meetings?\nBot: The March meetings are on March 3 and March 17.\n")
	gt.S(t, prompts[0].User).Contains("User Query: ```What about April?```")
	gt.True(t, strings.HasSuffix(strings.TrimSpace(prompts[0].User), "Rephrased question:"))
	gt.Equal(t, prompts[0].Temperature, 0.2)
}

func TestRewriteUsesOnlyLastExchange(t *testing.T) {
	llm := &testutil.MockLLM{
		CompleteFunc: func(ctx context.Context, prompt *adapter.Prompt) (string, error) {
			return "What about the April meetings?", nil
		},
	}
	history := append([]model.Turn{
		{Role: model.RoleUser, Content: "Who owns the budget?"},
		{Role: model.RoleAssistant, Content: "The finance team owns the budget."},
	}, marchExchange...)

	_, err := chat.NewRewriter(llm).Rewrite(context.Background(), "What about April?", history)
	gt.NoError(t, err)

	user := llm.CompletePrompts()[0].User
	gt.S(t, user).NotContains("budget")
	gt.S(t, user).Contains("March meetings")
}

func TestRewriteSanitizesOutput(t *testing.T) {
	testCases := []struct {
		name   string
		output string
		expect string
	}{
		{"plain", "When are the April meetings?", "When are the April meetings?"},
		{"label", "rephrased question: When are the April meetings?", "When are the April meetings?"},
		{"backticks", "```When are the April meetings?```", "When are the April meetings?"},
		{"quotes", "\"When are the April meetings?\"", "When are the April meetings?"},
		{"empty falls back", "   ", "What about April?"},
		{"multi-line answer falls back", "**April meetings**\n1. April 7\n2. April 21", "What about April?"},
		{"long answer falls back", strings.Repeat("The meetings in April are held weekly. ", 20), "What about April?"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &testutil.MockLLM{
				CompleteFunc: func(ctx context.Context, prompt *adapter.Prompt) (string, error) {
					return tc.output, nil
				},
			}
			got, err := chat.NewRewriter(llm).Rewrite(context.Background(), "What about April?", marchExchange)
			gt.NoError(t, err)
			gt.Equal(t, got, tc.expect)
		})
	}
}

func TestRewriteError(t *testing.T) {
	llm := &testutil.MockLLM{
		CompleteFunc: func(ctx context.Context, prompt *adapter.Prompt) (string, error) {
			return "", errors.New("401 unauthorized")
		},
	}

	_, err := chat.NewRewriter(llm).Rewrite(context.Background(), "What about April?", marchExchange)
	gt.Error(t, err)
	gt.True(t, model.IsRewriteError(err))
}

func newGeminiForTest(t *testing.T) adapter.LLM {
	apiKey := os.Getenv("TEST_GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_GEMINI_API_KEY is not set")
	}

	llm, err := adapter.New(context.Background(), model.ModelCredentials{
		Provider:       model.ProviderDirect,
		APIKey:         apiKey,
		ChatModel:      "gemini-2.5-flash",
		EmbeddingModel: "gemini-embedding-001",
	})
	gt.NoError(t, err)
	return llm
}

func TestRewriteWithGemini(t *testing.T) {
	llm := newGeminiForTest(t)
	r := chat.NewRewriter(llm)
	ctx := context.Background()

	followUp, err := r.Rewrite(ctx, "What about April?", marchExchange)
	gt.NoError(t, err)
	t.Log("rewritten:", followUp)
	gt.S(t, followUp).Contains("April")
	gt.S(t, strings.ToLower(followUp)).Contains("meeting")

	standalone, err := r.Rewrite(ctx, "What is the capital of France?", marchExchange)
	gt.NoError(t, err)
	t.Log("rewritten:", standalone)
	gt.S(t, standalone).Contains("France")
	gt.S(t, standalone).NotContains("Paris")
}
