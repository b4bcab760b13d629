package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sender-identity/internal/domain"
)

// SenderRepo stores senders in a single tenant-partitioned table.
//
// PK: tenant_id, SK: one of
//   - "sender#<id>"  the sender record
//   - "email#<addr>" uniqueness guard for (tenant, email)
//   - "meta"         sender_count, default_sender_id and an optimistic version
//
// Every multi-item change (create, delete, default reassignment) is one
// TransactWriteItems call conditioned on the meta item, which serialises
// concurrent writers per tenant without blocking other tenants.
type SenderRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSenderRepo(client *dynamodb.Client, tableName string) *SenderRepo {
	return &SenderRepo{client: client, tableName: tableName}
}

type tenantMeta struct {
	SenderCount     int    `dynamodbav:"sender_count"`
	DefaultSenderID string `dynamodbav:"default_sender_id"`
	Version         int    `dynamodbav:"version"`
}

func senderSK(senderID string) string { return skSenderPrefix + senderID }

func emailSK(email string) string { return skEmailPrefix + domain.NormalizeEmail(email) }

func (r *SenderRepo) senderItem(s *domain.Sender) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return nil, fmt.Errorf("marshal sender: %w", err)
	}
	item[fieldSK] = strAttr(senderSK(s.SenderID))
	if s.HasIdentity() {
		item[fieldIdentityName] = strAttr(s.IdentityName())
	}
	return item, nil
}

// Create persists s together with its email guard and bumps the tenant count.
// A first sender (s.IsDefault) requires the tenant to have no senders; any other
// requires sender_count < maxSenders. Returns ErrDuplicate when the email is taken
// and ErrConflict when the tenant changed underneath the caller.
func (r *SenderRepo) Create(ctx context.Context, s *domain.Sender, maxSenders int) error {
	items, err := r.createItems(s, maxSenders)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return createTxErr(err, s)
}

// createItems builds the sender put, the email guard put and the meta update, in
// that order.
func (r *SenderRepo) createItems(s *domain.Sender, maxSenders int) ([]types.TransactWriteItem, error) {
	item, err := r.senderItem(s)
	if err != nil {
		return nil, err
	}
	guard := compositeKey(fieldTenantID, s.TenantID, fieldSK, emailSK(s.Email))
	guard[fieldSenderID] = strAttr(s.SenderID)

	meta := &types.Update{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldTenantID, s.TenantID, fieldSK, skMeta),
		ExpressionAttributeNames: map[string]string{
			"#c": fieldSenderCount,
			"#v": fieldVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numAttr(1),
		},
	}
	if s.IsDefault {
		meta.UpdateExpression = aws.String("SET #c = if_not_exists(#c, :zero) + :one, #v = if_not_exists(#v, :zero) + :one, #d = :sid")
		meta.ConditionExpression = aws.String("attribute_not_exists(#c) OR #c = :zero")
		meta.ExpressionAttributeNames["#d"] = fieldDefaultSender
		meta.ExpressionAttributeValues[":zero"] = numAttr(0)
		meta.ExpressionAttributeValues[":sid"] = strAttr(s.SenderID)
	} else {
		meta.UpdateExpression = aws.String("SET #c = #c + :one, #v = #v + :one")
		meta.ConditionExpression = aws.String("#c < :max")
		meta.ExpressionAttributeValues[":max"] = numAttr(maxSenders)
	}

	return []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(sk)"),
		}},
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                guard,
			ConditionExpression: aws.String("attribute_not_exists(sk)"),
		}},
		{Update: meta},
	}, nil
}

// createTxErr maps a cancelled create: the guard item failing means the email
// is taken, anything else means the tenant moved on.
func createTxErr(err error, s *domain.Sender) error {
	if err == nil {
		return nil
	}
	if failed := canceledAt(err); failed != nil {
		if len(failed) > 1 && failed[1] {
			return fmt.Errorf("email %s: %w", s.Email, domain.ErrDuplicate)
		}
		return fmt.Errorf("tenant %s senders changed concurrently: %w", s.TenantID, domain.ErrConflict)
	}
	return err
}

func (r *SenderRepo) Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldTenantID, tenantID, fieldSK, senderSK(senderID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("sender not found: %w", domain.ErrNotFound)
	}
	var s domain.Sender
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByTenant returns every sender of a tenant, oldest first.
func (r *SenderRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Sender, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("tenant_id = :t AND begins_with(sk, :p)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": strAttr(tenantID),
			":p": strAttr(skSenderPrefix),
		},
		ConsistentRead: aws.Bool(true),
	})
	var senders []domain.Sender
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []domain.Sender
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		senders = append(senders, batch...)
	}
	return senders, nil
}

// ListByIdentity finds senders across all tenants that share an external identity.
func (r *SenderRepo) ListByIdentity(ctx context.Context, identity string) ([]domain.Sender, error) {
	return r.queryIndex(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexIdentity),
		KeyConditionExpression: aws.String("#n = :n"),
		ExpressionAttributeNames: map[string]string{
			"#n": fieldIdentityName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": strAttr(strings.ToLower(identity)),
		},
	})
}

// ListExpiredPending returns up to limit pending senders whose window closed at or before now.
func (r *SenderRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]domain.Sender, error) {
	return r.queryIndex(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexStatusExpires),
		KeyConditionExpression: aws.String("#s = :pending AND #e <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#e": fieldSenderExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": strAttr(string(domain.StatusPending)),
			":now":     timeAttr(now),
		},
		Limit: aws.Int32(limit),
	})
}

func (r *SenderRepo) queryIndex(ctx context.Context, input *dynamodb.QueryInput) ([]domain.Sender, error) {
	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	var senders []domain.Sender
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &senders); err != nil {
		return nil, err
	}
	return senders, nil
}

// ApplyTransition moves a pending sender to tr.To. It is the only write path for
// verification_status. When the sender is missing or already terminal the
// condition fails and (nil, false, nil) is returned: a no-op, not an error.
func (r *SenderRepo) ApplyTransition(ctx context.Context, tenantID, senderID string, tr domain.Transition) (*domain.Sender, bool, error) {
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
		withValue(":pending", strAttr(string(domain.StatusPending)))

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldTenantID, tenantID, fieldSK, senderSK(senderID)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(sk) AND #status = :pending"),
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
	var s domain.Sender
	if err := attributevalue.UnmarshalMap(out.Attributes, &s); err != nil {
		return nil, true, err
	}
	return &s, true, nil
}

// SetIdentity records that the external identity now exists. Only pending senders
// may gain an identity; afterwards the sender becomes reachable by identity-index.
func (r *SenderRepo) SetIdentity(ctx context.Context, tenantID, senderID, identityName, ref string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIdentityRef:   ref,
		fieldIdentityPhase: domain.PhaseIdentityCreated,
		fieldIdentityName:  strings.ToLower(identityName),
		fieldUpdatedAt:     at,
	})
	if err != nil {
		return err
	}
	return r.updatePending(ctx, tenantID, senderID, ue)
}

// MarkChallengeSent stamps last_verification_sent on a pending sender.
func (r *SenderRepo) MarkChallengeSent(ctx context.Context, tenantID, senderID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldLastSent:  at,
		fieldUpdatedAt: at,
	})
	if err != nil {
		return err
	}
	return r.updatePending(ctx, tenantID, senderID, ue)
}

func (r *SenderRepo) updatePending(ctx context.Context, tenantID, senderID string, ue updateExpr) error {
	ue = ue.withName("#status", fieldStatus).
		withValue(":pending", strAttr(string(domain.StatusPending)))
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldTenantID, tenantID, fieldSK, senderSK(senderID)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(sk) AND #status = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("sender %s is no longer pending: %w", senderID, domain.ErrConflict)
	}
	return err
}

func (r *SenderRepo) UpdateName(ctx context.Context, tenantID, senderID, name string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldName:      name,
		fieldUpdatedAt: at,
	})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldTenantID, tenantID, fieldSK, senderSK(senderID)),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(sk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("sender not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *SenderRepo) getMeta(ctx context.Context, tenantID string) (tenantMeta, error) {
	var m tenantMeta
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldTenantID, tenantID, fieldSK, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return m, err
	}
	if out.Item == nil {
		return m, nil
	}
	err = attributevalue.UnmarshalMap(out.Item, &m)
	return m, err
}

// metaVersionUpdate bumps the tenant version, conditioned on the version the caller read.
func (r *SenderRepo) metaVersionUpdate(tenantID string, m tenantMeta, set string, values map[string]types.AttributeValue) *types.Update {
	expr := "SET #v = :next"
	if set != "" {
		expr = set + ", #v = :next"
	}
	vals := map[string]types.AttributeValue{
		":seen": numAttr(m.Version),
		":next": numAttr(m.Version + 1),
	}
	for k, v := range values {
		vals[k] = v
	}
	names := map[string]string{"#v": fieldVersion}
	if strings.Contains(expr, "#d") {
		names["#d"] = fieldDefaultSender
	}
	if strings.Contains(expr, "#c") {
		names["#c"] = fieldSenderCount
	}
	return &types.Update{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldTenantID, tenantID, fieldSK, skMeta),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("#v = :seen"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: vals,
	}
}

func (r *SenderRepo) setDefaultFlag(tenantID, senderID string, isDefault bool) *types.Update {
	return &types.Update{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldTenantID, tenantID, fieldSK, senderSK(senderID)),
		UpdateExpression:    aws.String("SET #f = :b"),
		ConditionExpression: aws.String("attribute_exists(sk)"),
		ExpressionAttributeNames: map[string]string{
			"#f": fieldIsDefault,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b": &types.AttributeValueMemberBOOL{Value: isDefault},
		},
	}
}

// SetDefault makes senderID the tenant's only default sender. Every other sender
// flagged default is cleared in the same transaction, which is conditioned on the
// tenant version so it cannot interleave with a concurrent SetDefault or Delete.
func (r *SenderRepo) SetDefault(ctx context.Context, tenantID, senderID string) error {
	m, err := r.getMeta(ctx, tenantID)
	if err != nil {
		return err
	}
	senders, err := r.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	items, err := r.setDefaultItems(tenantID, m, senderID, senders)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return r.translateTxErr(err, tenantID)
}

func (r *SenderRepo) setDefaultItems(tenantID string, m tenantMeta, senderID string, senders []domain.Sender) ([]types.TransactWriteItem, error) {
	found := false
	items := []types.TransactWriteItem{
		{Update: r.metaVersionUpdate(tenantID, m, "SET #d = :sid", map[string]types.AttributeValue{":sid": strAttr(senderID)})},
		{Update: r.setDefaultFlag(tenantID, senderID, true)},
	}
	for _, s := range senders {
		if s.SenderID == senderID {
			found = true
			continue
		}
		if s.IsDefault {
			items = append(items, types.TransactWriteItem{Update: r.setDefaultFlag(tenantID, s.SenderID, false)})
		}
	}
	if !found {
		return nil, fmt.Errorf("sender not found: %w", domain.ErrNotFound)
	}
	return items, nil
}

// Delete removes s, its email guard and decrements the tenant count. When
// reassignTo is non-empty that sender becomes the default in the same transaction;
// when s was the default and reassignTo is empty the tenant is left without one.
func (r *SenderRepo) Delete(ctx context.Context, s *domain.Sender, reassignTo string) error {
	m, err := r.getMeta(ctx, s.TenantID)
	if err != nil {
		return err
	}
	items := r.deleteItems(s, m, reassignTo)
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return r.translateTxErr(err, s.TenantID)
}

func (r *SenderRepo) deleteItems(s *domain.Sender, m tenantMeta, reassignTo string) []types.TransactWriteItem {
	var metaUpdate *types.Update
	switch {
	case reassignTo != "":
		metaUpdate = r.metaVersionUpdate(s.TenantID, m, "SET #c = #c - :one, #d = :sid", map[string]types.AttributeValue{
			":one": numAttr(1),
			":sid": strAttr(reassignTo),
		})
	case s.IsDefault:
		metaUpdate = r.metaVersionUpdate(s.TenantID, m, "SET #c = #c - :one", map[string]types.AttributeValue{":one": numAttr(1)})
		metaUpdate.UpdateExpression = aws.String(*metaUpdate.UpdateExpression + " REMOVE #d")
		metaUpdate.ExpressionAttributeNames["#d"] = fieldDefaultSender
	default:
		metaUpdate = r.metaVersionUpdate(s.TenantID, m, "SET #c = #c - :one", map[string]types.AttributeValue{":one": numAttr(1)})
	}

	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:           aws.String(r.tableName),
			Key:                 compositeKey(fieldTenantID, s.TenantID, fieldSK, senderSK(s.SenderID)),
			ConditionExpression: aws.String("attribute_exists(sk)"),
		}},
		{Delete: &types.Delete{
			TableName: aws.String(r.tableName),
			Key:       compositeKey(fieldTenantID, s.TenantID, fieldSK, emailSK(s.Email)),
		}},
		{Update: metaUpdate},
	}
	if reassignTo != "" {
		items = append(items, types.TransactWriteItem{Update: r.setDefaultFlag(s.TenantID, reassignTo, true)})
	}
	return items
}

func (r *SenderRepo) translateTxErr(err error, tenantID string) error {
	if err == nil {
		return nil
	}
	if canceledAt(err) != nil {
		return fmt.Errorf("tenant %s senders changed concurrently: %w", tenantID, domain.ErrConflict)
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("senders table missing: %w", err)
	}
	return err
}
