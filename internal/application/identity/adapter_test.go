package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/sender-identity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct{ mock.Mock }

func (m *mockProvider) VerifyDomain(ctx context.Context, domainName string) (string, []string, error) {
	args := m.Called(ctx, domainName)
	dkim, _ := args.Get(1).([]string)
	return args.String(0), dkim, args.Error(2)
}
func (m *mockProvider) VerifyEmail(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}
func (m *mockProvider) VerificationStatus(ctx context.Context, identity string) (string, bool, error) {
	args := m.Called(ctx, identity)
	return args.String(0), args.Bool(1), args.Error(2)
}
func (m *mockProvider) DKIMStatus(ctx context.Context, domainName string) (string, bool, error) {
	args := m.Called(ctx, domainName)
	return args.String(0), args.Bool(1), args.Error(2)
}
func (m *mockProvider) DeleteIdentity(ctx context.Context, identity string) error {
	return m.Called(ctx, identity).Error(0)
}
func (m *mockProvider) Associate(ctx context.Context, tenantID, identity string) error {
	return m.Called(ctx, tenantID, identity).Error(0)
}
func (m *mockProvider) Disassociate(ctx context.Context, tenantID, identity string) error {
	return m.Called(ctx, tenantID, identity).Error(0)
}
func (m *mockProvider) IdentityARN(identity string) string {
	return "arn:test:" + identity
}

func TestStatus_Mapping(t *testing.T) {
	tests := []struct {
		raw   string
		found bool
		want  Status
	}{
		{"Success", true, StatusSuccess},
		{"Failed", true, StatusFailed},
		{"Pending", true, StatusPending},
		{"TemporaryFailure", true, StatusPending},
		{"NotStarted", true, StatusPending},
		{"SomethingNew", true, StatusPending},
		{"", false, StatusNotFound},
	}
	for _, tt := range tests {
		p := &mockProvider{}
		p.On("VerificationStatus", mock.Anything, "example.com").Return(tt.raw, tt.found, nil)
		got, err := NewAdapter(p).Status(context.Background(), "example.com")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestDKIMStatus(t *testing.T) {
	p := &mockProvider{}
	p.On("DKIMStatus", mock.Anything, "example.com").Return("Failed", true, nil).Once()
	p.On("DKIMStatus", mock.Anything, "example.com").Return("", false, nil).Once()
	p.On("DKIMStatus", mock.Anything, "example.com").Return("", false, domain.ErrTransientProvider).Once()
	a := NewAdapter(p)

	got, err := a.DKIMStatus(context.Background(), "Example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got)

	got, err = a.DKIMStatus(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, got)

	_, err = a.DKIMStatus(context.Background(), "example.com")
	assert.ErrorIs(t, err, domain.ErrTransientProvider)
}

func TestStatus_ProviderError(t *testing.T) {
	p := &mockProvider{}
	p.On("VerificationStatus", mock.Anything, "example.com").Return("", false, domain.ErrTransientProvider)
	_, err := NewAdapter(p).Status(context.Background(), "example.com")
	assert.ErrorIs(t, err, domain.ErrTransientProvider)
}

func TestStatus_Verification(t *testing.T) {
	to, ok := StatusSuccess.Verification()
	assert.True(t, ok)
	assert.Equal(t, domain.StatusVerified, to)

	to, ok = StatusFailed.Verification()
	assert.True(t, ok)
	assert.Equal(t, domain.StatusFailed, to)

	_, ok = StatusPending.Verification()
	assert.False(t, ok)
	_, ok = StatusNotFound.Verification()
	assert.False(t, ok)
}

func TestCreateDomainIdentity(t *testing.T) {
	p := &mockProvider{}
	p.On("VerifyDomain", mock.Anything, "example.com").Return("txt-token", []string{"d1", "d2", "d3"}, nil)
	p.On("Associate", mock.Anything, "t1", "example.com").Return(nil)

	di, err := NewAdapter(p).CreateDomainIdentity(context.Background(), "t1", "Example.com")
	require.NoError(t, err)
	assert.Equal(t, "arn:test:example.com", di.Ref)
	assert.Equal(t, "txt-token", di.VerificationToken)
	assert.Len(t, di.DKIMTokens, 3)
}

func TestCreateDomainIdentity_AssociationFails(t *testing.T) {
	p := &mockProvider{}
	p.On("VerifyDomain", mock.Anything, "example.com").Return("txt-token", []string{"d1"}, nil)
	p.On("Associate", mock.Anything, "t1", "example.com").Return(domain.ErrTransientProvider)

	_, err := NewAdapter(p).CreateDomainIdentity(context.Background(), "t1", "example.com")
	assert.ErrorIs(t, err, domain.ErrTransientProvider)
}

func TestCreateMailboxIdentity_FailureIsTransient(t *testing.T) {
	p := &mockProvider{}
	p.On("VerifyEmail", mock.Anything, "ann@example.com").Return(errors.New("invalid parameter"))

	_, err := NewAdapter(p).CreateMailboxIdentity(context.Background(), "t1", "Ann@Example.com")
	assert.ErrorIs(t, err, domain.ErrTransientProvider)
	p.AssertNotCalled(t, "Associate", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateMailboxIdentity(t *testing.T) {
	p := &mockProvider{}
	p.On("VerifyEmail", mock.Anything, "ann@example.com").Return(nil)
	p.On("Associate", mock.Anything, "t1", "ann@example.com").Return(nil)

	ref, err := NewAdapter(p).CreateMailboxIdentity(context.Background(), "t1", "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "arn:test:ann@example.com", ref)
}
