// Package app opens the infrastructure shared by the api, worker and senderctl
// binaries and assembles the reconciliation engine on top of it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/sender-identity/internal/application/cleanup"
	"github.com/sender-identity/internal/application/identity"
	"github.com/sender-identity/internal/application/poller"
	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/infrastructure/dynamo"
	jwtinfra "github.com/sender-identity/internal/infrastructure/jwt"
	s3infra "github.com/sender-identity/internal/infrastructure/s3"
	"github.com/sender-identity/internal/infrastructure/scheduler"
	"github.com/sender-identity/internal/infrastructure/ses"
	"github.com/sender-identity/internal/infrastructure/smtp"
	"github.com/sender-identity/internal/infrastructure/sns"
	"github.com/sender-identity/internal/pkg/token"
	transporthttp "github.com/sender-identity/internal/transport/http"
)

// Infra holds opened clients and repositories.
type Infra struct {
	Dynamo      *dynamodb.Client
	Redis       *redis.Client
	SenderRepo  *dynamo.SenderRepo
	DomainRepo  *dynamo.DomainRepo
	OrphanRepo  *dynamo.OrphanRepo
	TenantRepo  *dynamo.TenantRepo
	Provider    *ses.Provider
	Publisher   *sns.Publisher
	SNSVerifier *sns.Verifier
	Scheduler   *scheduler.Scheduler
	ZoneStore   *s3infra.Store
	Mailer      smtp.Mailer
	Tokens      *token.Codec
	JWTProvider *jwtinfra.Provider
}

// Open connects every backing service. The JWT provider is optional: without
// keys the API answers authenticated routes with 503 and senderctl cannot mint tokens.
func Open(ctx context.Context, cfg *config.Config) (*Infra, error) {
	in := &Infra{Dynamo: dynamo.NewClient(cfg)}
	in.SenderRepo = dynamo.NewSenderRepo(in.Dynamo, cfg.DynamoTables.Senders)
	in.DomainRepo = dynamo.NewDomainRepo(in.Dynamo, cfg.DynamoTables.DomainVerifications)
	in.OrphanRepo = dynamo.NewOrphanRepo(in.Dynamo, cfg.DynamoTables.OrphanedIdentities)
	in.TenantRepo = dynamo.NewTenantRepo(in.Dynamo, cfg.DynamoTables.Tenants)

	var err error
	if in.Provider, err = ses.NewProvider(ctx, cfg); err != nil {
		return nil, fmt.Errorf("identity provider: %w", err)
	}
	if in.Publisher, err = sns.NewPublisher(ctx, cfg); err != nil {
		return nil, fmt.Errorf("notification publisher: %w", err)
	}
	if cfg.SNSVerifySignatures {
		in.SNSVerifier = sns.NewVerifier()
		if len(cfg.SESEventTopicARNs) == 0 {
			slog.Warn("SES_EVENTS_TOPIC_ARNS is empty, every sns message will be rejected")
		}
	} else {
		slog.Warn("sns signature verification disabled, raw provider events are accepted")
	}

	if in.Redis, err = scheduler.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		return nil, err
	}
	in.Scheduler = scheduler.New(in.Redis, cfg.ScheduleKey, cfg.ScheduleLease)

	in.ZoneStore = s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName)
	in.Mailer = smtp.NewMailer(cfg)

	if in.Tokens, err = token.NewCodecFromHex(cfg.TokenKey); err != nil {
		return nil, fmt.Errorf("verification token key: %w", err)
	}

	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		in.JWTProvider = p
	} else {
		slog.Warn("jwt provider not available", "err", err)
	}
	return in, nil
}

func (in *Infra) Close() error {
	if in.Redis != nil {
		return in.Redis.Close()
	}
	return nil
}

// HTTPDeps exposes the infrastructure to the router.
func (in *Infra) HTTPDeps() *transporthttp.Deps {
	return &transporthttp.Deps{
		SenderRepo:  in.SenderRepo,
		DomainRepo:  in.DomainRepo,
		OrphanRepo:  in.OrphanRepo,
		TenantRepo:  in.TenantRepo,
		Provider:    in.Provider,
		Publisher:   in.Publisher,
		SNSVerifier: in.SNSVerifier,
		Scheduler:   in.Scheduler,
		ZoneStore:   in.ZoneStore,
		Mailer:      in.Mailer,
		Tokens:      in.Tokens,
		JWTProvider: in.JWTProvider,
	}
}

// Engine is the background half of the system: scheduled status checks and sweeps.
type Engine struct {
	Cleaner *cleanup.Manager
	Poller  *poller.Poller
}

func (in *Infra) Engine() *Engine {
	adapter := identity.NewAdapter(in.Provider)
	applier := transition.NewApplier(in.SenderRepo, in.DomainRepo, in.Publisher)
	cleaner := cleanup.NewManager(cleanup.Deps{
		Identity:    adapter,
		Senders:     in.SenderRepo,
		Domains:     in.DomainRepo,
		Orphans:     in.OrphanRepo,
		Transitions: applier,
	})
	return &Engine{
		Cleaner: cleaner,
		Poller: poller.New(poller.Deps{
			Senders:     in.SenderRepo,
			Identity:    adapter,
			Scheduler:   in.Scheduler,
			Cleaner:     cleaner,
			Transitions: applier,
		}),
	}
}
