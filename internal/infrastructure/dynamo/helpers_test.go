package dynamo

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpr_SingleField(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"username": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "SET #f0 = :v0", ue.Expr)
	assert.Equal(t, map[string]string{"#f0": "username"}, ue.Names)
	_, ok := ue.Values[":v0"]
	assert.True(t, ok)
}

func TestBuildUpdateExpr_MultipleFields_Deterministic(t *testing.T) {
	updates := map[string]interface{}{
		"email":      "a@b.com",
		"first_name": "Alice",
		"username":   "alice",
	}
	// Call twice to verify determinism.
	ue1, err := buildUpdateExpr(updates)
	require.NoError(t, err)
	ue2, err := buildUpdateExpr(updates)
	require.NoError(t, err)

	assert.Equal(t, ue1.Expr, ue2.Expr)

	// Keys must be sorted: email < first_name < username
	assert.Equal(t, "email", ue1.Names["#f0"])
	assert.Equal(t, "first_name", ue1.Names["#f1"])
	assert.Equal(t, "username", ue1.Names["#f2"])
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2", ue1.Expr)
}

func TestBuildUpdateExpr_ValuesMarshalledCorrectly(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"enable": true})
	require.NoError(t, err)
	av, ok := ue.Values[":v0"]
	require.True(t, ok)
	boolVal, isBool := av.(*types.AttributeValueMemberBOOL)
	require.True(t, isBool)
	assert.True(t, boolVal.Value)
}

func TestBuildUpdateExpr_EmptyMap_ReturnsError(t *testing.T) {
	_, err := buildUpdateExpr(map[string]interface{}{})
	assert.ErrorContains(t, err, "no fields to update")
}

func TestBuildUpdateExpr_TimeTruncatedToSeconds(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 999_000_000, time.FixedZone("X", 3600))
	ue, err := buildUpdateExpr(map[string]interface{}{"updated_at": at})
	require.NoError(t, err)
	s, ok := ue.Values[":v0"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "2026-03-01T09:00:00Z", s.Value)
}

func TestUpdateExpr_WithConditionPlaceholders(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"name": "x"})
	require.NoError(t, err)
	ue = ue.withName("#status", "verification_status").withValue(":pending", strAttr("pending"))
	assert.Equal(t, "verification_status", ue.Names["#status"])
	assert.Contains(t, ue.Values, ":pending")
}

func TestCanceledAt(t *testing.T) {
	code := "ConditionalCheckFailed"
	none := "None"
	err := fmt.Errorf("wrapped: %w", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &none}, {Code: &code}, {}},
	})
	assert.Equal(t, []bool{false, true, false}, canceledAt(err))
	assert.Nil(t, canceledAt(errors.New("boom")))
}

func TestIsConditionFailed(t *testing.T) {
	assert.True(t, isConditionFailed(fmt.Errorf("x: %w", &types.ConditionalCheckFailedException{})))
	assert.False(t, isConditionFailed(errors.New("x")))
	assert.False(t, isConditionFailed(nil))
}

func TestEmailSK_Normalizes(t *testing.T) {
	assert.Equal(t, "email#ann@example.com", emailSK("  Ann@Example.COM "))
	assert.Equal(t, "sender#01H", senderSK("01H"))
}
