package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rag-agent/internal/domain"
)

const defaultMaxQuestion = 4000

type TurnRunner interface {
	Run(ctx context.Context, in TurnInput) (TurnResult, error)
}

// SessionStore persists sessions by id. Load returns an error wrapping
// domain.ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
}

type DocumentLoader interface {
	Excerpt(name string, data []byte) (string, error)
}

type AskInput struct {
	Question     string
	SessionID    string
	Document     []byte
	DocumentName string
	// Now overrides the service clock when non-zero.
	Now time.Time
}

type AskOutput struct {
	Answer    string
	SessionID string
	Route     domain.Route
	States    []State
	// DocumentWarning is set when an attached document could not be read. The
	// turn still runs, without the document.
	DocumentWarning string
	// Expired reports that the requested session had timed out and a new one
	// was started.
	Expired bool
}

// ChatService owns sessions and runs one agent turn per Ask.
type ChatService struct {
	agent          TurnRunner
	store          SessionStore
	docs           DocumentLoader
	idleTimeout    time.Duration
	maxQuestionLen int
	logger         *slog.Logger
	now            func() time.Time
	locks          *keyedMutex
}

// NewChatService wires a ChatService. docs may be nil, in which case attached
// documents are ignored with a warning.
func NewChatService(agent TurnRunner, store SessionStore, docs DocumentLoader, idleTimeout time.Duration, maxQuestionLen int, logger *slog.Logger) (*ChatService, error) {
	if agent == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if idleTimeout <= 0 {
		idleTimeout = domain.DefaultIdleTimeout
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		agent:          agent,
		store:          store,
		docs:           docs,
		idleTimeout:    idleTimeout,
		maxQuestionLen: maxQuestionLen,
		logger:         logger,
		now:            time.Now,
		locks:          newKeyedMutex(),
	}, nil
}

func (s *ChatService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return AskOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	requested := strings.TrimSpace(in.SessionID)
	if requested != "" {
		unlock := s.locks.Lock(requested)
		defer unlock()
	}

	session, expired, err := s.resolveSession(ctx, requested, now)
	if err != nil {
		return AskOutput{}, err
	}
	logger := s.logger.With("session_id", session.ID)

	excerpt, warning := s.ingest(in.DocumentName, in.Document)
	if warning != "" {
		logger.Warn("document ignored", "name", in.DocumentName, "warning", warning)
	}

	result, runErr := s.agent.Run(ctx, TurnInput{
		Conversation: session.Conversation,
		Question:     question,
		Document:     excerpt,
		At:           now,
	})
	if runErr != nil {
		// The conversation is left as it was; only activity moves forward.
		session.LastActivity = now
		if err := s.store.Save(ctx, session); err != nil {
			logger.Warn("session save after failed turn", "err", err)
		}
		return AskOutput{SessionID: session.ID, DocumentWarning: warning, Expired: expired}, withSession(runErr, session.ID)
	}

	updated := session.Clone()
	updated.Conversation = result.Conversation
	updated.LastActivity = now
	if err := s.store.Save(ctx, updated); err != nil {
		return AskOutput{}, withSession(newError(ErrorInternal, "session_save_error", err), session.ID)
	}
	logger.Info("turn complete", "route", result.Route.String(), "turns", updated.Conversation.Len())

	return AskOutput{
		Answer:          result.Reply,
		SessionID:       updated.ID,
		Route:           result.Route,
		States:          result.States,
		DocumentWarning: warning,
		Expired:         expired,
	}, nil
}

// Reset forgets a session. Unknown ids are not an error.
func (s *ChatService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	if err := s.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return newError(ErrorInternal, "session_delete_error", err)
	}
	return nil
}

// resolveSession returns the stored session for id, or a fresh one when id is
// blank, unknown or expired.
func (s *ChatService) resolveSession(ctx context.Context, id string, now time.Time) (*domain.Session, bool, error) {
	if id == "" {
		return domain.NewSession(newUUID(), now), false, nil
	}

	session, err := s.store.Load(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewSession(newUUID(), now), false, nil
	}
	if err != nil {
		return nil, false, newError(ErrorInternal, "session_load_error", err)
	}
	if !session.Expired(now, s.idleTimeout) {
		return session, false, nil
	}

	s.logger.Info("session expired", "session_id", id, "last_activity", session.LastActivity)
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.logger.Warn("expired session delete failed", "session_id", id, "err", err)
	}
	return domain.NewSession(newUUID(), now), true, nil
}

func (s *ChatService) ingest(name string, data []byte) (string, string) {
	if len(data) == 0 {
		return "", ""
	}
	if s.docs == nil {
		return "", "Document uploads are not supported; the question was answered without it."
	}
	excerpt, err := s.docs.Excerpt(name, data)
	if err != nil {
		s.logger.Warn("document excerpt failed", "name", name, "err", err)
		return "", "The attached document could not be read; the question was answered without it."
	}
	if strings.TrimSpace(excerpt) == "" {
		return "", "The attached document contains no extractable text; the question was answered without it."
	}
	return excerpt, ""
}

func withSession(err error, sessionID string) error {
	var ucErr *Error
	if !errors.As(err, &ucErr) {
		ucErr = newError(ErrorInternal, "turn_error", err)
	}
	out := *ucErr
	out.SessionID = sessionID
	return &out
}

// keyedMutex serialises work per key and drops idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
