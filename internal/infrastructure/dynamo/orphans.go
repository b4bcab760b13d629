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

// OrphanRepo records external identities whose cleanup did not complete.
type OrphanRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewOrphanRepo(client *dynamodb.Client, tableName string) *OrphanRepo {
	return &OrphanRepo{client: client, tableName: tableName}
}

// Record upserts an orphan, keeping the first created_at and counting attempts.
func (r *OrphanRepo) Record(ctx context.Context, o domain.OrphanedIdentity) error {
	now := o.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              strKey(fieldIdentityName, strings.ToLower(o.IdentityName)),
		UpdateExpression: aws.String("SET #t = :t, #s = :s, #e = :e, #u = :u, #c = if_not_exists(#c, :u) ADD #a :one"),
		ExpressionAttributeNames: map[string]string{
			"#t": fieldTenantID,
			"#s": "stage",
			"#e": "last_error",
			"#u": fieldUpdatedAt,
			"#c": "created_at",
			"#a": "attempts",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   strAttr(o.TenantID),
			":s":   strAttr(string(o.Stage)),
			":e":   strAttr(o.LastError),
			":u":   timeAttr(now),
			":one": numAttr(1),
		},
	})
	if err != nil {
		return fmt.Errorf("record orphan %s: %w", o.IdentityName, err)
	}
	return nil
}

func (r *OrphanRepo) List(ctx context.Context, limit int32) ([]domain.OrphanedIdentity, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
		Limit:     aws.Int32(limit),
	})
	if err != nil {
		return nil, err
	}
	var orphans []domain.OrphanedIdentity
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &orphans); err != nil {
		return nil, err
	}
	return orphans, nil
}

func (r *OrphanRepo) Delete(ctx context.Context, identityName string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldIdentityName, strings.ToLower(identityName)),
	})
	return err
}
