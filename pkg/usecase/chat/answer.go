package chat

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// RefusalMessage is the whole answer when the context does not contain one.
const RefusalMessage = "Sorry, this information is out of my uploaded knowledge base, Please ask queries from Uploaded Documents."

const (
	DefaultTemperature = 0.1
	sectionSeparator   = "-----------------------"
)

// Answerer generates grounded answers from retrieved chunks.
type Answerer struct {
	llm         adapter.Generator
	temperature float64
	now         func() time.Time
}

type AnswererOption func(*Answerer)

func WithAnswerTemperature(t float64) AnswererOption {
	return func(a *Answerer) {
		a.temperature = t
	}
}

// WithClock replaces the clock used for today's date in the instruction.
func WithClock(now func() time.Time) AnswererOption {
	return func(a *Answerer) {
		a.now = now
	}
}

func NewAnswerer(llm adapter.Generator, opts ...AnswererOption) *Answerer {
	a := &Answerer{
		llm:         llm,
		temperature: DefaultTemperature,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildContext labels every chunk with its filename, in retrieval order.
func BuildContext(chunks []*model.DocumentChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("Section Text(")
		b.WriteString(c.Filename)
		b.WriteString("): ")
		b.WriteString(c.Text)
		b.WriteString("\n" + sectionSeparator + "\n\n")
	}
	return b.String()
}

// Answer starts generating an answer to query from chunks. The model is
// called when the stream is first read. Without chunks the answer is
// RefusalMessage and the model is not called.
func (a *Answerer) Answer(ctx context.Context, query string, chunks []*model.DocumentChunk) *Stream {
	if len(chunks) == 0 {
		logging.From(ctx).Debug("no context retrieved, refusing", "query", query)
		return newStream(query, nil, func(yield func(string, error) bool) {
			yield(RefusalMessage, nil)
		})
	}

	return newStream(query, chunks, func(yield func(string, error) bool) {
		prompt, err := a.prompt(query, chunks)
		if err != nil {
			yield("", goerr.Wrap(err, "failed to build answer prompt", goerr.T(model.ErrTagGeneration)))
			return
		}

		for fragment, err := range a.llm.Stream(ctx, prompt) {
			if err != nil {
				yield("", goerr.Wrap(err, "failed to generate answer",
					goerr.V("query", query), goerr.T(model.ErrTagGeneration)))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	})
}

func (a *Answerer) prompt(query string, chunks []*model.DocumentChunk) (*adapter.Prompt, error) {
	system, err := render(answerPromptTmpl, map[string]any{
		"Date":    a.now().Format("02/01/2006"),
		"Context": BuildContext(chunks),
		"Refusal": RefusalMessage,
	})
	if err != nil {
		return nil, err
	}

	user, err := render(answerInputTmpl, map[string]any{"Query": query})
	if err != nil {
		return nil, err
	}

	return &adapter.Prompt{
		System:      system,
		User:        strings.TrimRight(user, "\n"),
		Temperature: a.temperature,
	}, nil
}
