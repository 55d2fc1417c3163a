package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rag-agent/internal/domain"
)

const DefaultStageTimeout = 30 * time.Second

// State is a step of the per-turn state machine.
type State int

const (
	StateRouting State = iota + 1
	StateEnded
	StateAnswering
	StateRAGLookup
	StateWebSearch
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRouting:
		return "routing"
	case StateEnded:
		return "ended"
	case StateAnswering:
		return "answering"
	case StateRAGLookup:
		return "rag_lookup"
	case StateWebSearch:
		return "web_search"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool { return s == StateEnded || s == StateDone }

// maxSteps bounds the loop: the longest path is routing, rag lookup, web
// search, answering.
const maxSteps = 4

type Router interface {
	Decide(ctx context.Context, query string, hasDocument bool) (domain.RouteDecision, error)
}

type Judge interface {
	Judge(ctx context.Context, query string, kb domain.RetrievalResult) (bool, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, conv domain.Conversation, bundle domain.ContextBundle) (string, error)
}

type Retriever interface {
	Search(ctx context.Context, query string) domain.RetrievalResult
}

// Stages are the collaborators one turn runs through.
type Stages struct {
	Router        Router
	KnowledgeBase Retriever
	Judge         Judge
	Web           Retriever
	Synthesizer   Synthesizer
}

func (s Stages) validate() error {
	switch {
	case s.Router == nil:
		return errors.New("usecase: router must not be nil")
	case s.KnowledgeBase == nil:
		return errors.New("usecase: knowledge base must not be nil")
	case s.Judge == nil:
		return errors.New("usecase: judge must not be nil")
	case s.Web == nil:
		return errors.New("usecase: web search must not be nil")
	case s.Synthesizer == nil:
		return errors.New("usecase: synthesizer must not be nil")
	}
	return nil
}

// TurnInput is one user turn handed to the agent.
type TurnInput struct {
	Conversation domain.Conversation
	Question     string
	// Document is the excerpt of a file attached to this turn, if any.
	Document string
	At       time.Time
}

// TurnResult describes how a turn was handled.
type TurnResult struct {
	Reply         string
	Route         domain.Route
	States        []State
	Bundle        domain.ContextBundle
	KnowledgeBase *domain.RetrievalResult
	Web           *domain.RetrievalResult
	Conversation  domain.Conversation
}

// Agent runs the router, retrieval, judge and synthesizer for one turn.
type Agent struct {
	stages       Stages
	stageTimeout time.Duration
	logger       *slog.Logger
}

func NewAgent(stages Stages, stageTimeout time.Duration, logger *slog.Logger) (*Agent, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{stages: stages, stageTimeout: stageTimeout, logger: logger}, nil
}

// Run executes a turn. On error the input conversation is untouched and the
// returned result must be ignored.
func (a *Agent) Run(ctx context.Context, in TurnInput) (TurnResult, error) {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	document := strings.TrimSpace(in.Document)
	t := turn{
		agent:    a,
		question: in.Question,
		document: document,
		at:       at,
		conv:     in.Conversation.Append(domain.NewUserTurn(in.Question, document, at)),
		visited:  make(map[State]bool, maxSteps),
	}

	state := StateRouting
	for step := 0; !state.terminal(); step++ {
		if step >= maxSteps || t.visited[state] {
			return TurnResult{}, newError(ErrorInternal, "state_machine_loop", fmt.Errorf("usecase: state %s revisited", state))
		}
		t.visited[state] = true
		t.result.States = append(t.result.States, state)

		next, err := t.step(ctx, state)
		if err != nil {
			a.logger.Error("turn failed", "state", state.String(), "err", err)
			return TurnResult{}, err
		}
		a.logger.Debug("turn transition", "from", state.String(), "to", next.String())
		state = next
	}
	t.result.States = append(t.result.States, state)
	t.result.Conversation = t.conv
	return t.result, nil
}

// turn is the working state of a single Run.
type turn struct {
	agent    *Agent
	question string
	document string
	at       time.Time
	conv     domain.Conversation
	visited  map[State]bool
	result   TurnResult
}

func (t *turn) step(ctx context.Context, state State) (State, error) {
	a := t.agent
	switch state {
	case StateRouting:
		var decision domain.RouteDecision
		err := a.withStage(ctx, func(ctx context.Context) error {
			var err error
			decision, err = a.stages.Router.Decide(ctx, t.question, t.document != "")
			return err
		})
		if err != nil {
			return 0, stageError(err, ErrorClassification, "router")
		}
		t.result.Route = decision.Route
		switch decision.Route {
		case domain.RouteEnd:
			t.result.Reply = decision.Reply
			t.conv = t.conv.Append(domain.NewAssistantTurn(decision.Reply, t.at))
			return StateEnded, nil
		case domain.RouteAnswer:
			t.result.Bundle = domain.DocumentContext(t.document)
			return StateAnswering, nil
		case domain.RouteRAG:
			return StateRAGLookup, nil
		default:
			return 0, newError(ErrorClassification, "router_unknown_route", fmt.Errorf("usecase: route %s is not a router outcome", decision.Route))
		}

	case StateRAGLookup:
		var kb domain.RetrievalResult
		_ = a.withStage(ctx, func(ctx context.Context) error {
			kb = a.stages.KnowledgeBase.Search(ctx, t.question)
			return nil
		})
		t.result.KnowledgeBase = &kb

		var sufficient bool
		err := a.withStage(ctx, func(ctx context.Context) error {
			var err error
			sufficient, err = a.stages.Judge.Judge(ctx, t.question, kb)
			return err
		})
		if err != nil {
			return 0, stageError(err, ErrorClassification, "judge")
		}
		a.logger.Debug("knowledge base verdict", "status", kb.Status.String(), "sufficient", sufficient)
		if sufficient {
			t.result.Bundle = domain.RetrievedContext(kb).WithDocument(t.document)
			return StateAnswering, nil
		}
		t.result.Route = domain.RouteWeb
		return StateWebSearch, nil

	case StateWebSearch:
		var web domain.RetrievalResult
		_ = a.withStage(ctx, func(ctx context.Context) error {
			web = a.stages.Web.Search(ctx, t.question)
			return nil
		})
		t.result.Web = &web
		results := []domain.RetrievalResult{web}
		if t.result.KnowledgeBase != nil {
			results = append([]domain.RetrievalResult{*t.result.KnowledgeBase}, results...)
		}
		t.result.Bundle = domain.RetrievedContext(results...).WithDocument(t.document)
		return StateAnswering, nil

	case StateAnswering:
		var answer string
		err := a.withStage(ctx, func(ctx context.Context) error {
			var err error
			answer, err = a.stages.Synthesizer.Synthesize(ctx, t.conv, t.result.Bundle)
			return err
		})
		if err != nil {
			return 0, stageError(err, ErrorSynthesis, "synthesis")
		}
		t.result.Reply = answer
		t.conv = t.conv.Append(domain.NewAssistantTurn(answer, t.at))
		return StateDone, nil

	default:
		return 0, newError(ErrorInternal, "unknown_state", fmt.Errorf("usecase: no transition from %s", state))
	}
}

// withStage runs fn under a per-stage deadline derived from ctx.
func (a *Agent) withStage(ctx context.Context, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()
	return fn(stageCtx)
}

// stageError keeps an already classified error and classifies anything else
// as a failure of stage.
func stageError(err error, code ErrorCode, stage string) error {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr
	}
	return upstreamError(code, stage, err)
}
