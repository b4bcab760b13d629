package http

import (
	"github.com/sender-identity/internal/infrastructure/dynamo"
	jwtinfra "github.com/sender-identity/internal/infrastructure/jwt"
	s3infra "github.com/sender-identity/internal/infrastructure/s3"
	"github.com/sender-identity/internal/infrastructure/scheduler"
	"github.com/sender-identity/internal/infrastructure/ses"
	"github.com/sender-identity/internal/infrastructure/smtp"
	"github.com/sender-identity/internal/infrastructure/sns"
	"github.com/sender-identity/internal/pkg/token"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	SenderRepo *dynamo.SenderRepo
	DomainRepo *dynamo.DomainRepo
	OrphanRepo *dynamo.OrphanRepo
	TenantRepo *dynamo.TenantRepo
	Provider   *ses.Provider
	Publisher  *sns.Publisher
	// SNSVerifier is nil when signature verification is disabled.
	SNSVerifier *sns.Verifier
	Scheduler   *scheduler.Scheduler
	ZoneStore   *s3infra.Store
	Mailer      smtp.Mailer
	Tokens      *token.Codec
	JWTProvider *jwtinfra.Provider
}
