package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/sender-identity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSenders struct{ mock.Mock }

func (m *mockSenders) ListByIdentity(ctx context.Context, identity string) ([]domain.Sender, error) {
	args := m.Called(ctx, identity)
	s, _ := args.Get(0).([]domain.Sender)
	return s, args.Error(1)
}

type mockDomains struct{ mock.Mock }

func (m *mockDomains) ListByDomain(ctx context.Context, domainName string) ([]domain.DomainVerification, error) {
	args := m.Called(ctx, domainName)
	d, _ := args.Get(0).([]domain.DomainVerification)
	return d, args.Error(1)
}

type mockTransitions struct{ mock.Mock }

func (m *mockTransitions) ApplySender(ctx context.Context, tenantID, senderID string, to domain.VerificationStatus, reason, source string) (bool, error) {
	args := m.Called(ctx, tenantID, senderID, to, reason, source)
	return args.Bool(0), args.Error(1)
}
func (m *mockTransitions) ApplyDomain(ctx context.Context, tenantID, domainName string, to domain.VerificationStatus, reason, source string) (bool, error) {
	args := m.Called(ctx, tenantID, domainName, to, reason, source)
	return args.Bool(0), args.Error(1)
}

func sender(tenant, id string, status domain.VerificationStatus) domain.Sender {
	return domain.Sender{TenantID: tenant, SenderID: id, VerificationStatus: status,
		VerificationType: domain.VerificationDomain, Domain: "example.com"}
}

func TestTargetStatus(t *testing.T) {
	to, ok := TargetStatus("Success")
	assert.True(t, ok)
	assert.Equal(t, domain.StatusVerified, to)

	to, ok = TargetStatus("failure")
	assert.True(t, ok)
	assert.Equal(t, domain.StatusFailed, to)

	for _, s := range []string{"pending", "TemporaryFailure", "", "timed_out"} {
		_, ok := TargetStatus(s)
		assert.False(t, ok, s)
	}
}

func TestIngest_FansOutAcrossTenants(t *testing.T) {
	senders, domains, tr := &mockSenders{}, &mockDomains{}, &mockTransitions{}
	senders.On("ListByIdentity", mock.Anything, "example.com").Return([]domain.Sender{
		sender("t1", "s1", domain.StatusPending),
		sender("t2", "s2", domain.StatusPending),
		sender("t3", "s3", domain.StatusVerified),
	}, nil)
	domains.On("ListByDomain", mock.Anything, "example.com").Return([]domain.DomainVerification{
		{TenantID: "t1", Domain: "example.com", Status: domain.StatusPending},
	}, nil)
	tr.On("ApplySender", mock.Anything, "t1", "s1", domain.StatusVerified, "", "event").Return(true, nil).Once()
	tr.On("ApplySender", mock.Anything, "t2", "s2", domain.StatusVerified, "", "event").Return(true, nil).Once()
	// Already flipped by the mirror of s1: the conditional write reports no change.
	tr.On("ApplyDomain", mock.Anything, "t1", "example.com", domain.StatusVerified, "", "event").Return(false, nil).Once()

	res, err := New(senders, domains, tr).Ingest(context.Background(), domain.ProviderEvent{
		Identity: "Example.COM", EventType: "verification", Status: "success",
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Matched: 4, Applied: 2}, res)
	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "ApplySender", mock.Anything, "t3", "s3", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_FailureCarriesReason(t *testing.T) {
	senders, domains, tr := &mockSenders{}, &mockDomains{}, &mockTransitions{}
	senders.On("ListByIdentity", mock.Anything, "ann@example.com").Return([]domain.Sender{
		{TenantID: "t1", SenderID: "s1", VerificationStatus: domain.StatusPending, VerificationType: domain.VerificationMailbox},
	}, nil)
	tr.On("ApplySender", mock.Anything, "t1", "s1", domain.StatusFailed, "mailbox rejected", "event").Return(true, nil).Once()

	res, err := New(senders, domains, tr).Ingest(context.Background(), domain.ProviderEvent{
		Identity: "ann@example.com", Status: "failure", Reason: "mailbox rejected",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	domains.AssertNotCalled(t, "ListByDomain", mock.Anything, mock.Anything)
}

func TestIngest_IgnoresNonTerminalStatus(t *testing.T) {
	senders, domains, tr := &mockSenders{}, &mockDomains{}, &mockTransitions{}

	res, err := New(senders, domains, tr).Ingest(context.Background(), domain.ProviderEvent{
		Identity: "example.com", Status: "pending",
	})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	senders.AssertNotCalled(t, "ListByIdentity", mock.Anything, mock.Anything)
}

func TestIngest_DuplicateDeliveryIsNoop(t *testing.T) {
	senders, domains, tr := &mockSenders{}, &mockDomains{}, &mockTransitions{}
	senders.On("ListByIdentity", mock.Anything, "example.com").Return([]domain.Sender{
		sender("t1", "s1", domain.StatusVerified),
	}, nil)
	domains.On("ListByDomain", mock.Anything, "example.com").Return([]domain.DomainVerification{
		{TenantID: "t1", Domain: "example.com", Status: domain.StatusVerified},
	}, nil)

	res, err := New(senders, domains, tr).Ingest(context.Background(), domain.ProviderEvent{
		Identity: "example.com", Status: "success",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	tr.AssertNotCalled(t, "ApplySender", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tr.AssertNotCalled(t, "ApplyDomain", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_MissingIdentity(t *testing.T) {
	_, err := New(&mockSenders{}, &mockDomains{}, &mockTransitions{}).Ingest(context.Background(), domain.ProviderEvent{Status: "success"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngest_StoreErrorPropagates(t *testing.T) {
	senders, domains, tr := &mockSenders{}, &mockDomains{}, &mockTransitions{}
	senders.On("ListByIdentity", mock.Anything, "example.com").Return([]domain.Sender{
		sender("t1", "s1", domain.StatusPending),
	}, nil)
	domains.On("ListByDomain", mock.Anything, "example.com").Return([]domain.DomainVerification{}, nil)
	tr.On("ApplySender", mock.Anything, "t1", "s1", domain.StatusVerified, "", "event").Return(false, errors.New("throttled"))

	_, err := New(senders, domains, tr).Ingest(context.Background(), domain.ProviderEvent{
		Identity: "example.com", Status: "success",
	})
	assert.Error(t, err)
}
