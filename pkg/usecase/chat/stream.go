package chat

import (
	"iter"
	"strings"
	"sync"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Stream is one answer being generated. Fragments can be consumed once; the
// assembled answer is available from Answer only after they were all read.
type Stream struct {
	query   string
	sources []*model.DocumentChunk
	source  iter.Seq2[string, error]

	mu      sync.Mutex
	started bool
	done    bool
	err     error
	buf     strings.Builder
}

func newStream(query string, sources []*model.DocumentChunk, source iter.Seq2[string, error]) *Stream {
	return &Stream{
		query:   query,
		sources: sources,
		source:  source,
	}
}

// Query is the query the answer was generated for.
func (s *Stream) Query() string { return s.query }

// Sources are the retrieved chunks the answer is grounded on, in retrieval
// order.
func (s *Stream) Sources() []*model.DocumentChunk { return s.sources }

// Fragments yields text in the order the model emits it. Breaking out of the
// loop abandons the answer; nothing else is affected.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		if s.started {
			s.mu.Unlock()
			yield("", goerr.New("answer stream is already consumed"))
			return
		}
		s.started = true
		s.mu.Unlock()

		for fragment, err := range s.source {
			if err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				yield("", err)
				return
			}

			s.mu.Lock()
			s.buf.WriteString(fragment)
			s.mu.Unlock()

			if !yield(fragment, nil) {
				return
			}
		}

		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
	}
}

// Answer returns the concatenation of all fragments. It fails when the
// stream ended with an error or was not read to the end.
func (s *Stream) Answer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	if !s.done {
		return "", goerr.Wrap(model.ErrStreamNotDrained, "answer is incomplete",
			goerr.V("received", s.buf.Len()))
	}
	return s.buf.String(), nil
}

// Drain reads all remaining fragments and returns the assembled answer.
func (s *Stream) Drain() (string, error) {
	for _, err := range s.Fragments() {
		if err != nil {
			return "", err
		}
	}
	return s.Answer()
}
