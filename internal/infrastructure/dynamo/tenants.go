package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sender-identity/internal/domain"
)

// TenantRepo maps a tenant to its subscription tier. A tenant without a row is on the free tier.
type TenantRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewTenantRepo(client *dynamodb.Client, tableName string) *TenantRepo {
	return &TenantRepo{client: client, tableName: tableName}
}

func (r *TenantRepo) GetTierLimits(ctx context.Context, tenantID string) (domain.TierLimits, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldTenantID, tenantID),
	})
	if err != nil {
		return domain.TierLimits{}, err
	}
	tier := domain.TierFree
	if v, ok := out.Item[fieldTier].(*types.AttributeValueMemberS); ok {
		tier = domain.Tier(v.Value)
	}
	return domain.LimitsFor(tier), nil
}

func (r *TenantRepo) SetTier(ctx context.Context, tenantID string, tier domain.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q: %w", tier, domain.ErrValidation)
	}
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			fieldTenantID: strAttr(tenantID),
			fieldTier:     strAttr(string(tier)),
		},
	})
	return err
}
