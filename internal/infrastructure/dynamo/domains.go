package dynamo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sender-identity/internal/domain"
)

// DomainRepo stores one DomainVerification per (tenant_id, domain).
type DomainRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewDomainRepo(client *dynamodb.Client, tableName string) *DomainRepo {
	return &DomainRepo{client: client, tableName: tableName}
}

// Create inserts d unless the tenant already has a record for the domain, in
// which case ErrDuplicate is returned.
func (r *DomainRepo) Create(ctx context.Context, d *domain.DomainVerification) error {
	d.Domain = strings.ToLower(d.Domain)
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal domain verification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#d)"),
		ExpressionAttributeNames: map[string]string{
			"#d": fieldDomain,
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("domain %s: %w", d.Domain, domain.ErrDuplicate)
	}
	return err
}

// Restart replaces a failed or timed-out record with d, a fresh pending one.
// ErrConflict means the stored record is no longer restartable.
func (r *DomainRepo) Restart(ctx context.Context, d *domain.DomainVerification) error {
	d.Domain = strings.ToLower(d.Domain)
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal domain verification: %w", err)
	}
	_, err = r.client.PutItem(ctx, restartInput(r.tableName, item))
	if isConditionFailed(err) {
		return fmt.Errorf("domain %s: %w", d.Domain, domain.ErrConflict)
	}
	return err
}

func restartInput(table string, item map[string]types.AttributeValue) *dynamodb.PutItemInput {
	return &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("#s IN (:failed, :timed_out)"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":    strAttr(string(domain.StatusFailed)),
			":timed_out": strAttr(string(domain.StatusTimedOut)),
		},
	}
}

// DeletePending removes a pending record written with expiresAt. A record that
// has since moved on, or was replaced, is left alone.
func (r *DomainRepo) DeletePending(ctx context.Context, tenantID, domainName string, expiresAt time.Time) error {
	_, err := r.client.DeleteItem(ctx, deletePendingInput(r.tableName, tenantID, domainName, expiresAt))
	if isConditionFailed(err) {
		return nil
	}
	return err
}

func deletePendingInput(table, tenantID, domainName string, expiresAt time.Time) *dynamodb.DeleteItemInput {
	return &dynamodb.DeleteItemInput{
		TableName:           aws.String(table),
		Key:                 compositeKey(fieldTenantID, tenantID, fieldDomain, strings.ToLower(domainName)),
		ConditionExpression: aws.String("#s = :pending AND #e = :exp"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#e": fieldDomainExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": strAttr(string(domain.StatusPending)),
			":exp":     timeAttr(expiresAt),
		},
	}
}

func (r *DomainRepo) Get(ctx context.Context, tenantID, domainName string) (*domain.DomainVerification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldTenantID, tenantID, fieldDomain, strings.ToLower(domainName)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("domain verification not found: %w", domain.ErrNotFound)
	}
	var d domain.DomainVerification
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ApplyTransition has the same pending-only semantics as SenderRepo.ApplyTransition.
func (r *DomainRepo) ApplyTransition(ctx context.Context, tenantID, domainName string, tr domain.Transition) (*domain.DomainVerification, bool, error) {
	updates := map[string]interface{}{
		fieldStatus:    tr.To,
		fieldUpdatedAt: tr.At,
	}
	if tr.To == domain.StatusVerified {
		updates[fieldVerifiedAt] = tr.At
	}
	if tr.Reason != "" {
		updates[fieldFailureReason] = tr.Reason
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return nil, false, err
	}
	ue = ue.withName("#status", fieldStatus).
		withName("#d", fieldDomain).
		withValue(":pending", strAttr(string(domain.StatusPending)))

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldTenantID, tenantID, fieldDomain, strings.ToLower(domainName)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#d) AND #status = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var d domain.DomainVerification
	if err := attributevalue.UnmarshalMap(out.Attributes, &d); err != nil {
		return nil, true, err
	}
	return &d, true, nil
}

// ListByDomain returns the records of every tenant that verifies domainName.
func (r *DomainRepo) ListByDomain(ctx context.Context, domainName string) ([]domain.DomainVerification, error) {
	return r.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexDomain),
		KeyConditionExpression: aws.String("#d = :d"),
		ExpressionAttributeNames: map[string]string{
			"#d": fieldDomain,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": strAttr(strings.ToLower(domainName)),
		},
	})
}

func (r *DomainRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]domain.DomainVerification, error) {
	return r.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexStatusExpires),
		KeyConditionExpression: aws.String("#s = :pending AND #e <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#e": fieldDomainExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": strAttr(string(domain.StatusPending)),
			":now":     timeAttr(now),
		},
		Limit: aws.Int32(limit),
	})
}

func (r *DomainRepo) query(ctx context.Context, input *dynamodb.QueryInput) ([]domain.DomainVerification, error) {
	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	var records []domain.DomainVerification
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, err
	}
	return records, nil
}
