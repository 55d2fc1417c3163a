// Package app assembles the agent from configuration. Hosts build one
// container at startup and close it on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"rag-agent/internal/config"
	"rag-agent/internal/document"
	"rag-agent/internal/domain"
	"rag-agent/internal/indexer"
	"rag-agent/internal/integrations/openai"
	"rag-agent/internal/integrations/paramstore"
	"rag-agent/internal/integrations/pgvector"
	"rag-agent/internal/integrations/qdrant"
	"rag-agent/internal/integrations/tavily"
	"rag-agent/internal/repository"
	"rag-agent/internal/retrieval"
	"rag-agent/internal/usecase"
)

// vectorIndex is what both the knowledge base and the index builder need
// from a backend.
type vectorIndex interface {
	Ping(ctx context.Context) error
	Ensure(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.Passage, error)
}

type Container struct {
	Chat    *usecase.ChatService
	Indexer *indexer.Builder

	closers []func() error
}

// NewChat wires everything needed to answer questions. Missing credentials or
// an unreachable index fail with a CONFIGURATION_ERROR.
func NewChat(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	awsCfg, err := awsConfigFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	getter, err := credentials(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	openAIName, tavilyName := cfg.Credentials.TokenNames()

	llm, err := newOpenAI(ctx, cfg, getter, openAIName)
	if err != nil {
		return nil, err
	}
	web, err := tavily.NewClient(getter, tavilyName, tavily.WithTopic(cfg.Web.Topic), tavily.WithBaseURL(cfg.Web.BaseURL))
	if err != nil {
		return nil, usecase.ConfigurationError("tavily_client", err)
	}
	if err := web.Warmup(ctx); err != nil {
		return nil, usecase.ConfigurationError("missing_tavily_credentials", err)
	}

	index, err := c.openIndex(cfg)
	if err != nil {
		return nil, err
	}
	if err := index.Ping(ctx); err != nil {
		return nil, usecase.ConfigurationError("index_unreachable", err)
	}

	kb, err := retrieval.NewKnowledgeBase(llm, index, cfg.Models.Embedding, cfg.Index.TopK, logger)
	if err != nil {
		return nil, err
	}
	webSearch, err := retrieval.NewWebSearch(web, cfg.Web.MaxResults, logger)
	if err != nil {
		return nil, err
	}
	router, err := usecase.NewLLMRouter(llm, cfg.Models.Chat)
	if err != nil {
		return nil, err
	}
	judge, err := usecase.NewLLMJudge(llm, cfg.Models.Chat)
	if err != nil {
		return nil, err
	}
	synth, err := usecase.NewLLMSynthesizer(llm, cfg.Models.Chat)
	if err != nil {
		return nil, err
	}
	agent, err := usecase.NewAgent(usecase.Stages{
		Router:        router,
		KnowledgeBase: kb,
		Judge:         judge,
		Web:           webSearch,
		Synthesizer:   synth,
	}, cfg.Agent.StageTimeout, logger)
	if err != nil {
		return nil, err
	}

	store, err := c.openSessions(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	docs := document.NewLoader(cfg.Document.Pages, cfg.Document.MaxBytes)

	c.Chat, err = usecase.NewChatService(agent, store, docs, cfg.Sessions.IdleTimeout, cfg.Agent.MaxQuestionLength, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("agent ready",
		"sessions", cfg.Sessions.Backend,
		"index", cfg.Index.Backend,
		"chat_model", cfg.Models.Chat,
	)
	ok = true
	return c, nil
}

// NewIndexer wires the index builder. The index does not need to exist yet.
func NewIndexer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	awsCfg, err := awsConfigFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	getter, err := credentials(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	openAIName, _ := cfg.Credentials.TokenNames()
	llm, err := newOpenAI(ctx, cfg, getter, openAIName)
	if err != nil {
		return nil, err
	}
	index, err := c.openIndex(cfg)
	if err != nil {
		return nil, err
	}

	splitter := indexer.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	c.Indexer, err = indexer.NewBuilder(llm, index, splitter, cfg.Models.Embedding, cfg.Chunking.BatchSize, logger)
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// awsConfigFor loads the AWS SDK config only when a component needs it.
func awsConfigFor(ctx context.Context, cfg *config.Config) (*aws.Config, error) {
	if cfg.Credentials.Source != config.CredentialsSSM && cfg.Sessions.Backend != config.SessionsDynamoDB {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, usecase.ConfigurationError("aws_config", err)
	}
	return &awsCfg, nil
}

func credentials(cfg *config.Config, awsCfg *aws.Config) (paramstore.Getter, error) {
	switch cfg.Credentials.Source {
	case config.CredentialsSSM:
		getter, err := paramstore.NewSSM(awsssm.NewFromConfig(*awsCfg))
		if err != nil {
			return nil, usecase.ConfigurationError("ssm_client", err)
		}
		return getter, nil
	case config.CredentialsEnv:
		return paramstore.NewEnv(cfg.Credentials.EnvVars()), nil
	default:
		return nil, usecase.ConfigurationError("credentials_source", fmt.Errorf("app: unknown credentials source %q", cfg.Credentials.Source))
	}
}

func newOpenAI(ctx context.Context, cfg *config.Config, getter paramstore.Getter, tokenName string) (*openai.Client, error) {
	var opts []openai.Option
	if cfg.Models.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Models.BaseURL))
	}
	llm, err := openai.NewClient(getter, tokenName, opts...)
	if err != nil {
		return nil, usecase.ConfigurationError("openai_client", err)
	}
	if err := llm.Warmup(ctx); err != nil {
		return nil, usecase.ConfigurationError("missing_openai_credentials", err)
	}
	return llm, nil
}

func (c *Container) openIndex(cfg *config.Config) (vectorIndex, error) {
	switch cfg.Index.Backend {
	case config.IndexQdrant:
		store, err := qdrant.NewStore(qdrant.Config{
			URL:        cfg.Index.Qdrant.URL,
			APIKey:     cfg.Index.Qdrant.APIKey,
			Collection: cfg.Index.Qdrant.Collection,
		})
		if err != nil {
			return nil, usecase.ConfigurationError("qdrant_config", err)
		}
		return store, nil
	case config.IndexPgvector:
		store, err := pgvector.Open(cfg.Index.Pgvector.DSN)
		if err != nil {
			return nil, usecase.ConfigurationError("index_unreachable", err)
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	default:
		return nil, usecase.ConfigurationError("index_backend", fmt.Errorf("app: unknown index backend %q", cfg.Index.Backend))
	}
}

func (c *Container) openSessions(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) (usecase.SessionStore, error) {
	switch cfg.Sessions.Backend {
	case config.SessionsMemory:
		return repository.NewMemoryStore(cfg.Sessions.TTL), nil
	case config.SessionsDynamoDB:
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(*awsCfg), cfg.Sessions.Table, cfg.Sessions.TTL)
		if err != nil {
			return nil, usecase.ConfigurationError("dynamodb_config", err)
		}
		return store, nil
	case config.SessionsRedis:
		rdb, err := repository.OpenRedis(ctx, cfg.Sessions.RedisURL)
		if err != nil {
			return nil, usecase.ConfigurationError("redis_unreachable", err)
		}
		c.closers = append(c.closers, rdb.Close)
		store, err := repository.NewRedisStore(rdb, cfg.Sessions.TTL)
		if err != nil {
			return nil, usecase.ConfigurationError("redis_config", err)
		}
		return store, nil
	default:
		return nil, usecase.ConfigurationError("session_backend", fmt.Errorf("app: unknown session backend %q", cfg.Sessions.Backend))
	}
}
