package chat

import (
	"sync"
	"time"

	"github.com/m-mizutani/docqa/pkg/model"
)

// Session is the state of one user's conversation: the turns exchanged so
// far and the documents already indexed. It lives as long as the user's
// session and is passed explicitly to every pipeline call.
type Session struct {
	id        model.SessionID
	createdAt time.Time

	mu      sync.Mutex
	turns   []model.Turn
	uploads map[model.UploadIdentity]struct{}
}

func NewSession() *Session {
	return &Session{
		id:        model.NewSessionID(),
		createdAt: time.Now(),
		uploads:   make(map[model.UploadIdentity]struct{}),
	}
}

func (s *Session) ID() model.SessionID  { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// History returns a copy of all turns.
func (s *Session) History() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Turn(nil), s.turns...)
}

// RecentTurns returns the turns used as rewrite context.
func (s *Session) RecentTurns() []model.Turn {
	return model.RecentTurns(s.History(), model.RewriteWindow)
}

// Record appends the question and its answer. The stream must have been read
// to the end; an incomplete or failed answer leaves the history unchanged.
func (s *Session) Record(question string, stream *Stream) error {
	answer, err := stream.Answer()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns,
		model.Turn{Role: model.RoleUser, Content: question},
		model.Turn{Role: model.RoleAssistant, Content: answer},
	)
	return nil
}

// HasUpload reports whether a document was already indexed in this session.
func (s *Session) HasUpload(id model.UploadIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploads[id]
	return ok
}

// MarkUploaded remembers an indexed document.
func (s *Session) MarkUploaded(id model.UploadIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = struct{}{}
}

// Uploads is the number of documents indexed in this session.
func (s *Session) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}
