package ses

import (
	"context"
	"errors"
	"testing"

	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"github.com/sender-identity/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttling", &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}, true},
		{"server fault", &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultServer}, true},
		{"invalid parameter", &smithy.GenericAPIError{Code: "InvalidParameterValue", Fault: smithy.FaultClient}, false},
		{"network", errors.New("dial tcp: connection refused"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.transient, errors.Is(err, domain.ErrTransientProvider))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestIdentityARN(t *testing.T) {
	p := &Provider{region: "eu-west-1", accountID: "123456789012"}
	assert.Equal(t, "arn:aws:ses:eu-west-1:123456789012:identity/example.com", p.IdentityARN("Example.com"))
}

func TestLookup_CaseInsensitive(t *testing.T) {
	m := map[string]sestypes.IdentityVerificationAttributes{
		"Ann@Example.com": {VerificationStatus: sestypes.VerificationStatusSuccess},
	}
	a, ok := lookup(m, "ann@example.com")
	assert.True(t, ok)
	assert.Equal(t, sestypes.VerificationStatusSuccess, a.VerificationStatus)

	_, ok = lookup(m, "bob@example.com")
	assert.False(t, ok)
}

func TestLookup_DkimAttributes(t *testing.T) {
	m := map[string]sestypes.IdentityDkimAttributes{
		"Example.com": {DkimEnabled: true, DkimVerificationStatus: sestypes.VerificationStatusTemporaryFailure},
	}
	a, ok := lookup(m, "example.com")
	assert.True(t, ok)
	assert.Equal(t, sestypes.VerificationStatusTemporaryFailure, a.DkimVerificationStatus)
}

func TestAssociate_NoPrefixIsNoop(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Associate(context.Background(), "t1", "example.com"))
	assert.NoError(t, p.Disassociate(context.Background(), "t1", "example.com"))
}
