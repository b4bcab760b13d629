// Package ses talks to Amazon SES: identities through the v1 API and
// tenant resource associations through SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sesv2types "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/infrastructure/awsclient"
	"github.com/sender-identity/internal/metrics"
)

// Provider implements the identity provider calls used by the identity adapter.
type Provider struct {
	v1           *ses.Client
	v2           *sesv2.Client
	region       string
	accountID    string
	tenantPrefix string
}

func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	awsCfg, err := awsclient.Load(ctx, cfg, cfg.SESRegion)
	if err != nil {
		return nil, fmt.Errorf("load aws config for ses: %w", err)
	}
	ep := awsclient.Endpoint(cfg)
	v1 := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if ep != nil {
			o.BaseEndpoint = ep
		}
	})
	v2 := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if ep != nil {
			o.BaseEndpoint = ep
		}
	})
	return &Provider{
		v1:           v1,
		v2:           v2,
		region:       awsCfg.Region,
		accountID:    cfg.AWSAccountID,
		tenantPrefix: cfg.SESTenantPrefix,
	}, nil
}

// IdentityARN is the reference stored on records for an identity name.
func (p *Provider) IdentityARN(identity string) string {
	return fmt.Sprintf("arn:aws:ses:%s:%s:identity/%s", p.region, p.accountID, strings.ToLower(identity))
}

// VerifyDomain creates (or re-reads) a domain identity and returns the
// ownership token plus the DKIM tokens to publish.
func (p *Provider) VerifyDomain(ctx context.Context, domainName string) (string, []string, error) {
	start := time.Now()
	out, err := p.v1.VerifyDomainIdentity(ctx, &ses.VerifyDomainIdentityInput{Domain: aws.String(domainName)})
	metrics.ObserveProviderCall("verify_domain", start, err)
	if err != nil {
		return "", nil, classify("verify domain identity", err)
	}

	start = time.Now()
	dkim, err := p.v1.VerifyDomainDkim(ctx, &ses.VerifyDomainDkimInput{Domain: aws.String(domainName)})
	metrics.ObserveProviderCall("verify_domain_dkim", start, err)
	if err != nil {
		return "", nil, classify("verify domain dkim", err)
	}
	return aws.ToString(out.VerificationToken), dkim.DkimTokens, nil
}

// VerifyEmail creates an address identity. SES mails its own confirmation link.
func (p *Provider) VerifyEmail(ctx context.Context, email string) error {
	start := time.Now()
	_, err := p.v1.VerifyEmailIdentity(ctx, &ses.VerifyEmailIdentityInput{EmailAddress: aws.String(email)})
	metrics.ObserveProviderCall("verify_email", start, err)
	if err != nil {
		return classify("verify email identity", err)
	}
	return nil
}

// VerificationStatus returns the SES status string ("Success", "Pending", ...)
// and false when SES does not know the identity.
func (p *Provider) VerificationStatus(ctx context.Context, identity string) (string, bool, error) {
	start := time.Now()
	out, err := p.v1.GetIdentityVerificationAttributes(ctx, &ses.GetIdentityVerificationAttributesInput{
		Identities: []string{identity},
	})
	metrics.ObserveProviderCall("get_status", start, err)
	if err != nil {
		return "", false, classify("get identity verification attributes", err)
	}
	attrs, ok := lookup(out.VerificationAttributes, identity)
	if !ok {
		return "", false, nil
	}
	return string(attrs.VerificationStatus), true, nil
}

// DKIMStatus returns the SES DKIM verification status of a domain identity
// and false when SES does not know it.
func (p *Provider) DKIMStatus(ctx context.Context, domainName string) (string, bool, error) {
	start := time.Now()
	out, err := p.v1.GetIdentityDkimAttributes(ctx, &ses.GetIdentityDkimAttributesInput{
		Identities: []string{domainName},
	})
	metrics.ObserveProviderCall("get_dkim_status", start, err)
	if err != nil {
		return "", false, classify("get identity dkim attributes", err)
	}
	attrs, ok := lookup(out.DkimAttributes, domainName)
	if !ok {
		return "", false, nil
	}
	return string(attrs.DkimVerificationStatus), true, nil
}

// lookup finds identity in an SES attribute map, whose keys keep the caller's casing.
func lookup[T any](m map[string]T, identity string) (T, bool) {
	if a, ok := m[identity]; ok {
		return a, true
	}
	for k, a := range m {
		if strings.EqualFold(k, identity) {
			return a, true
		}
	}
	var zero T
	return zero, false
}

// DeleteIdentity is idempotent on the SES side: deleting an unknown identity succeeds.
func (p *Provider) DeleteIdentity(ctx context.Context, identity string) error {
	start := time.Now()
	_, err := p.v1.DeleteIdentity(ctx, &ses.DeleteIdentityInput{Identity: aws.String(identity)})
	metrics.ObserveProviderCall("delete_identity", start, err)
	if err != nil {
		return classify("delete identity", err)
	}
	return nil
}

func (p *Provider) tenantName(tenantID string) string { return p.tenantPrefix + tenantID }

// Associate links the identity to the tenant's SES tenant, creating the tenant
// on first use. A no-op when no tenant prefix is configured.
func (p *Provider) Associate(ctx context.Context, tenantID, identity string) error {
	if p.tenantPrefix == "" {
		return nil
	}
	in := &sesv2.CreateTenantResourceAssociationInput{
		TenantName:  aws.String(p.tenantName(tenantID)),
		ResourceArn: aws.String(p.IdentityARN(identity)),
	}
	start := time.Now()
	_, err := p.v2.CreateTenantResourceAssociation(ctx, in)
	metrics.ObserveProviderCall("associate", start, err)

	var nf *sesv2types.NotFoundException
	if errors.As(err, &nf) {
		if _, cerr := p.v2.CreateTenant(ctx, &sesv2.CreateTenantInput{TenantName: in.TenantName}); cerr != nil {
			var exists *sesv2types.AlreadyExistsException
			if !errors.As(cerr, &exists) {
				return classify("create tenant", cerr)
			}
		}
		_, err = p.v2.CreateTenantResourceAssociation(ctx, in)
	}
	var exists *sesv2types.AlreadyExistsException
	if err == nil || errors.As(err, &exists) {
		return nil
	}
	return classify("create tenant resource association", err)
}

// Disassociate removes the tenant link. A missing association counts as success.
func (p *Provider) Disassociate(ctx context.Context, tenantID, identity string) error {
	if p.tenantPrefix == "" {
		return nil
	}
	start := time.Now()
	_, err := p.v2.DeleteTenantResourceAssociation(ctx, &sesv2.DeleteTenantResourceAssociationInput{
		TenantName:  aws.String(p.tenantName(tenantID)),
		ResourceArn: aws.String(p.IdentityARN(identity)),
	})
	metrics.ObserveProviderCall("disassociate", start, err)
	var nf *sesv2types.NotFoundException
	if err == nil || errors.As(err, &nf) {
		return nil
	}
	return classify("delete tenant resource association", err)
}

var transientCodes = map[string]bool{
	"Throttling":                      true,
	"ThrottlingException":             true,
	"TooManyRequestsException":        true,
	"ServiceUnavailable":              true,
	"InternalFailure":                 true,
	"RequestTimeout":                  true,
	"LimitExceededException":          true,
	"ConcurrentModificationException": true,
}

// classify wraps err with ErrTransientProvider when a retry may succeed:
// throttling, server faults and transport failures. Anything else is returned as is.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("ses %s: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("ses %s: %w: %w", op, domain.ErrTransientProvider, err)
		}
		return fmt.Errorf("ses %s: %w", op, err)
	}
	return fmt.Errorf("ses %s: %w: %w", op, domain.ErrTransientProvider, err)
}
