package dynamo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sender-identity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSenders = &SenderRepo{tableName: "senders"}

func sAttr(t *testing.T, av types.AttributeValue) string {
	t.Helper()
	s, ok := av.(*types.AttributeValueMemberS)
	require.True(t, ok, "expected string attribute, got %T", av)
	return s.Value
}

func nAttr(t *testing.T, av types.AttributeValue) string {
	t.Helper()
	n, ok := av.(*types.AttributeValueMemberN)
	require.True(t, ok, "expected number attribute, got %T", av)
	return n.Value
}

func txCanceled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return fmt.Errorf("transact: %w", &types.TransactionCanceledException{CancellationReasons: reasons})
}

func newSender(id string, isDefault bool) *domain.Sender {
	return &domain.Sender{
		TenantID:           "t1",
		SenderID:           id,
		Email:              "News@Acme.com",
		VerificationType:   domain.VerificationMailbox,
		VerificationStatus: domain.StatusPending,
		IsDefault:          isDefault,
	}
}

// --- Create ---

func TestCreateItems_FirstSenderRequiresEmptyTenant(t *testing.T) {
	items, err := testSenders.createItems(newSender("s1", true), 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "attribute_not_exists(sk)", *items[0].Put.ConditionExpression)
	assert.Equal(t, "sender#s1", sAttr(t, items[0].Put.Item[fieldSK]))

	guard := items[1].Put
	assert.Equal(t, "attribute_not_exists(sk)", *guard.ConditionExpression)
	assert.Equal(t, "email#news@acme.com", sAttr(t, guard.Item[fieldSK]))
	assert.Equal(t, "s1", sAttr(t, guard.Item[fieldSenderID]))

	meta := items[2].Update
	assert.Equal(t, "meta", sAttr(t, meta.Key[fieldSK]))
	assert.Equal(t, "attribute_not_exists(#c) OR #c = :zero", *meta.ConditionExpression)
	assert.Contains(t, *meta.UpdateExpression, "#d = :sid")
	assert.Equal(t, "0", nAttr(t, meta.ExpressionAttributeValues[":zero"]))
	assert.Equal(t, "s1", sAttr(t, meta.ExpressionAttributeValues[":sid"]))
	assert.Equal(t, fieldDefaultSender, meta.ExpressionAttributeNames["#d"])
	assert.NotContains(t, meta.ExpressionAttributeValues, ":max")
}

func TestCreateItems_LaterSenderBoundedByQuota(t *testing.T) {
	items, err := testSenders.createItems(newSender("s2", false), 10)
	require.NoError(t, err)

	meta := items[2].Update
	assert.Equal(t, "#c < :max", *meta.ConditionExpression)
	assert.Equal(t, "SET #c = #c + :one, #v = #v + :one", *meta.UpdateExpression)
	assert.Equal(t, "10", nAttr(t, meta.ExpressionAttributeValues[":max"]))
	assert.NotContains(t, meta.ExpressionAttributeNames, "#d")
}

func TestCreateTxErr(t *testing.T) {
	s := newSender("s1", false)

	assert.NoError(t, createTxErr(nil, s))
	assert.ErrorIs(t, createTxErr(txCanceled("None", "ConditionalCheckFailed", "None"), s), domain.ErrDuplicate)

	err := createTxErr(txCanceled("None", "None", "ConditionalCheckFailed"), s)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrDuplicate)

	assert.ErrorIs(t, createTxErr(txCanceled("ConditionalCheckFailed", "None", "None"), s), domain.ErrConflict)

	boom := errors.New("throttled")
	assert.Same(t, boom, createTxErr(boom, s))
}

// --- SetDefault ---

func TestSetDefaultItems_ClearsOtherDefaults(t *testing.T) {
	senders := []domain.Sender{*newSender("s1", true), *newSender("s2", false), *newSender("s3", true)}

	items, err := testSenders.setDefaultItems("t1", tenantMeta{SenderCount: 3, DefaultSenderID: "s1", Version: 7}, "s2", senders)
	require.NoError(t, err)
	require.Len(t, items, 4)

	meta := items[0].Update
	assert.Equal(t, "SET #d = :sid, #v = :next", *meta.UpdateExpression)
	assert.Equal(t, "#v = :seen", *meta.ConditionExpression)
	assert.Equal(t, "7", nAttr(t, meta.ExpressionAttributeValues[":seen"]))
	assert.Equal(t, "8", nAttr(t, meta.ExpressionAttributeValues[":next"]))
	assert.Equal(t, "s2", sAttr(t, meta.ExpressionAttributeValues[":sid"]))

	flags := map[string]bool{}
	for _, it := range items[1:] {
		b, ok := it.Update.ExpressionAttributeValues[":b"].(*types.AttributeValueMemberBOOL)
		require.True(t, ok)
		flags[sAttr(t, it.Update.Key[fieldSK])] = b.Value
	}
	assert.Equal(t, map[string]bool{"sender#s2": true, "sender#s1": false, "sender#s3": false}, flags)
}

func TestSetDefaultItems_UnknownSender(t *testing.T) {
	_, err := testSenders.setDefaultItems("t1", tenantMeta{}, "missing", []domain.Sender{*newSender("s1", true)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- Delete ---

func TestDeleteItems_DefaultWithoutReplacementRemovesPointer(t *testing.T) {
	items := testSenders.deleteItems(newSender("s1", true), tenantMeta{SenderCount: 1, DefaultSenderID: "s1", Version: 4}, "")
	require.Len(t, items, 3)

	assert.Equal(t, "sender#s1", sAttr(t, items[0].Delete.Key[fieldSK]))
	assert.Equal(t, "attribute_exists(sk)", *items[0].Delete.ConditionExpression)
	assert.Equal(t, "email#news@acme.com", sAttr(t, items[1].Delete.Key[fieldSK]))

	meta := items[2].Update
	assert.Equal(t, "SET #c = #c - :one, #v = :next REMOVE #d", *meta.UpdateExpression)
	assert.Equal(t, "#v = :seen", *meta.ConditionExpression)
	assert.Equal(t, fieldDefaultSender, meta.ExpressionAttributeNames["#d"])
	assert.Equal(t, "4", nAttr(t, meta.ExpressionAttributeValues[":seen"]))
}

func TestDeleteItems_ReassignsDefault(t *testing.T) {
	items := testSenders.deleteItems(newSender("s1", true), tenantMeta{SenderCount: 2, Version: 2}, "s2")
	require.Len(t, items, 4)

	meta := items[2].Update
	assert.Equal(t, "SET #c = #c - :one, #d = :sid, #v = :next", *meta.UpdateExpression)
	assert.Equal(t, "s2", sAttr(t, meta.ExpressionAttributeValues[":sid"]))
	assert.NotContains(t, *meta.UpdateExpression, "REMOVE")

	flag := items[3].Update
	assert.Equal(t, "sender#s2", sAttr(t, flag.Key[fieldSK]))
	assert.True(t, flag.ExpressionAttributeValues[":b"].(*types.AttributeValueMemberBOOL).Value)
}

func TestDeleteItems_NonDefaultOnlyDecrements(t *testing.T) {
	items := testSenders.deleteItems(newSender("s3", false), tenantMeta{SenderCount: 3, DefaultSenderID: "s1", Version: 9}, "")
	require.Len(t, items, 3)
	assert.Equal(t, "SET #c = #c - :one, #v = :next", *items[2].Update.UpdateExpression)
	assert.NotContains(t, items[2].Update.ExpressionAttributeNames, "#d")
}

func TestTranslateTxErr(t *testing.T) {
	assert.NoError(t, testSenders.translateTxErr(nil, "t1"))
	assert.ErrorIs(t, testSenders.translateTxErr(txCanceled("None", "None", "ConditionalCheckFailed"), "t1"), domain.ErrConflict)

	missing := &types.ResourceNotFoundException{}
	err := testSenders.translateTxErr(missing, "t1")
	assert.ErrorContains(t, err, "senders table missing")
	assert.ErrorAs(t, err, &missing)
}
