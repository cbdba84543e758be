package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// maxRewriteRunes bounds a plausible standalone question. Longer output is
// taken as the model answering instead of rewriting.
const maxRewriteRunes = 400

// Rewriter turns follow-up queries into standalone ones using the most
// recent exchange.
type Rewriter struct {
	llm         adapter.Generator
	temperature float64
}

type RewriterOption func(*Rewriter)

func WithRewriteTemperature(t float64) RewriterOption {
	return func(r *Rewriter) {
		r.temperature = t
	}
}

func NewRewriter(llm adapter.Generator, opts ...RewriterOption) *Rewriter {
	r := &Rewriter{
		llm:         llm,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite returns a standalone form of query. Only the last
// model.RewriteWindow turns of recent are used. Without history the query is
// returned as is and no model call is made.
func (r *Rewriter) Rewrite(ctx context.Context, query string, recent []model.Turn) (string, error) {
	window := model.RecentTurns(recent, model.RewriteWindow)
	if len(window) == 0 || strings.TrimSpace(query) == "" {
		return query, nil
	}

	input, err := render(rephraseInputTmpl, map[string]any{
		"History": model.FormatTurns(window),
		"Query":   query,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to build rewrite prompt", goerr.T(model.ErrTagRewrite))
	}

	resp, err := r.llm.Complete(ctx, &adapter.Prompt{
		System:      rephrasePrompt,
		User:        input,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to rewrite query",
			goerr.V("query", query), goerr.T(model.ErrTagRewrite))
	}

	rewritten := sanitizeRewrite(resp)
	switch {
	case rewritten == "":
		return query, nil
	case strings.Contains(rewritten, "\n") || utf8.RuneCountInString(rewritten) > maxRewriteRunes:
		logging.From(ctx).Warn("discard rewrite that looks like an answer",
			"query", query, "length", utf8.RuneCountInString(rewritten))
		return query, nil
	}

	logging.From(ctx).Debug("rewrote query", "query", query, "rewritten", rewritten)
	return rewritten, nil
}

func sanitizeRewrite(s string) string {
	s = strings.TrimSpace(s)
	const label = "rephrased question:"
	if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
		s = strings.TrimSpace(s[len(label):])
	}
	s = strings.Trim(s, "`\"'")
	return strings.TrimSpace(s)
}
