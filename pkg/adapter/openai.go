package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIClient talks to an Azure OpenAI compatible gateway. Model names are
// deployment names on the gateway.
type OpenAIClient struct {
	llm       *openai.LLM
	chatModel string
	embModel  string
}

func NewOpenAI(endpoint, apiKey, apiVersion, chatModel, embeddingModel string) (*OpenAIClient, error) {
	client, err := openai.New(
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithBaseURL(endpoint),
		openai.WithAPIVersion(apiVersion),
		openai.WithToken(apiKey),
		openai.WithModel(chatModel),
		openai.WithEmbeddingModel(embeddingModel),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai client", goerr.V("endpoint", endpoint))
	}

	return &OpenAIClient{
		llm:       client,
		chatModel: chatModel,
		embModel:  embeddingModel,
	}, nil
}

func messages(prompt *Prompt) []llms.MessageContent {
	var msgs []llms.MessageContent
	if prompt.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt.User))
}

func (o *OpenAIClient) Complete(ctx context.Context, prompt *Prompt) (string, error) {
	resp, err := o.llm.GenerateContent(ctx, messages(prompt), llms.WithTemperature(prompt.Temperature))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", o.chatModel))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("no choice returned", goerr.V("model", o.chatModel))
	}
	return resp.Choices[0].Content, nil
}

// Stream bridges the callback based streaming of langchaingo into an
// iterator. The producer goroutine is always joined before returning.
func (o *OpenAIClient) Stream(ctx context.Context, prompt *Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fragments := make(chan string)
		done := make(chan error, 1)

		go func() {
			defer close(fragments)
			_, err := o.llm.GenerateContent(ctx, messages(prompt),
				llms.WithTemperature(prompt.Temperature),
				llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
					select {
					case fragments <- string(chunk):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}),
			)
			done <- err
		}()

		for fragment := range fragments {
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				cancel()
				for range fragments {
				}
				<-done
				return
			}
		}

		if err := <-done; err != nil {
			yield("", goerr.Wrap(err, "failed to stream content", goerr.V("model", o.chatModel)))
		}
	}
}

func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", o.embModel))
	}
	if len(vectors) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", o.embModel))
	}
	return vectors[0], nil
}
