package chat_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/m-mizutani/docqa/pkg/adapter"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/utils/testutil"
	"github.com/m-mizutani/gt"
)

var deadlineChunks = []*model.DocumentChunk{
	{Text: "The project deadline is March 5.", Filename: "plan.pdf"},
	{Text: "Status meetings are held every Monday.", Filename: "notes.pdf"},
}

func TestBuildContext(t *testing.T) {
	gt.Equal(t, chat.BuildContext(deadlineChunks),
		"Section Text(plan.pdf): The project deadline is March 5.\n-----------------------\n\n"+
			"Section Text(notes.pdf): Status meetings are held every Monday.\n-----------------------\n\n")
	gt.Equal(t, chat.BuildContext(nil), "")
}

func TestAnswerRefusesWithoutContext(t *testing.T) {
	llm := &testutil.MockLLM{}
	stream := chat.NewAnswerer(llm).Answer(context.Background(), "When is the deadline?", nil)

	answer, err := stream.Drain()
	gt.NoError(t, err)
	gt.Equal(t, answer, chat.RefusalMessage)
	gt.A(t, llm.StreamPrompts()).Length(0)
	gt.A(t, stream.Sources()).Length(0)
}

func TestAnswerPrompt(t *testing.T) {
	llm := &testutil.MockLLM{
		StreamFunc: func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
			return testutil.Fragments("March 5")
		},
	}
	clock := func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	a := chat.NewAnswerer(llm, chat.WithClock(clock), chat.WithAnswerTemperature(0.3))

	_, err := a.Answer(context.Background(), "When is the deadline?", deadlineChunks).Drain()
	gt.NoError(t, err)

	prompts := llm.StreamPrompts()
	gt.A(t, prompts).Length(1)
	gt.S(t, prompts[0].System).Contains("18/10/2026")
	gt.S(t, prompts[0].System).Contains(chat.BuildContext(deadlineChunks))
	gt.S(t, prompts[0].System).Contains(chat.RefusalMessage)
	gt.Equal(t, prompts[0].User, "User Query: ```When is the deadline?```")
	gt.Equal(t, prompts[0].Temperature, 0.3)
}

func TestAnswerStreamsInOrder(t *testing.T) {
	fragments := []string{"**Deadline**\n\n", "1. The project ", "deadline is ", "March 5."}
	llm := &testutil.MockLLM{
		StreamFunc: func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
			return testutil.Fragments(fragments...)
		},
	}
	stream := chat.NewAnswerer(llm).Answer(context.Background(), "When is the deadline?", deadlineChunks)

	// not readable before the stream is drained
	_, err := stream.Answer()
	gt.Error(t, err)
	gt.True(t, model.IsIncompleteError(err))

	var got []string
	for f, err := range stream.Fragments() {
		gt.NoError(t, err)
		got = append(got, f)
	}
	gt.Equal(t, got, fragments)

	answer, err := stream.Answer()
	gt.NoError(t, err)
	gt.Equal(t, answer, "**Deadline**\n\n1. The project deadline is March 5.")
	gt.Equal(t, stream.Sources(), deadlineChunks)
	gt.Equal(t, stream.Query(), "When is the deadline?")

	// a stream is consumed once
	for _, err := range stream.Fragments() {
		gt.Error(t, err)
	}
}

func TestAnswerAbandonedEarly(t *testing.T) {
	produced := 0
	llm := &testutil.MockLLM{
		StreamFunc: func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				for _, f := range []string{"a", "b", "c", "d"} {
					produced++
					if !yield(f, nil) {
						return
					}
				}
			}
		},
	}
	stream := chat.NewAnswerer(llm).Answer(context.Background(), "q", deadlineChunks)

	for f, err := range stream.Fragments() {
		gt.NoError(t, err)
		gt.Equal(t, f, "a")
		break
	}
	gt.Equal(t, produced, 1)

	_, err := stream.Answer()
	gt.Error(t, err)
	gt.True(t, model.IsIncompleteError(err))
}

func TestAnswerGenerationError(t *testing.T) {
	llm := &testutil.MockLLM{
		StreamFunc: func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
			return testutil.FailingStream(errors.New("connection reset"), "The project")
		},
	}
	stream := chat.NewAnswerer(llm).Answer(context.Background(), "q", deadlineChunks)

	_, err := stream.Drain()
	gt.Error(t, err)
	gt.True(t, model.IsGenerationError(err))

	_, err = stream.Answer()
	gt.True(t, model.IsGenerationError(err))
}

func TestAnswerWithGemini(t *testing.T) {
	llm := newGeminiForTest(t)
	a := chat.NewAnswerer(llm)
	ctx := context.Background()

	answer, err := a.Answer(ctx, "When is the deadline?", deadlineChunks).Drain()
	gt.NoError(t, err)
	t.Log("answer:", answer)
	gt.S(t, answer).Contains("March 5")
	gt.S(t, answer).NotContains(chat.RefusalMessage)

	irrelevant := []*model.DocumentChunk{{Text: "The cafeteria serves lunch from noon.", Filename: "facilities.pdf"}}
	answer, err = a.Answer(ctx, "What is the boiling point of mercury?", irrelevant).Drain()
	gt.NoError(t, err)
	gt.S(t, answer).Contains("out of my uploaded knowledge base")
}
