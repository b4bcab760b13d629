package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsFor_UnknownTierFallsBackToFree(t *testing.T) {
	assert.Equal(t, LimitsFor(TierFree), LimitsFor(Tier("platinum")))
	assert.False(t, Tier("platinum").Valid())
}

func TestTierLimits_Allows(t *testing.T) {
	free := LimitsFor(TierFree)
	assert.True(t, free.Allows(VerificationMailbox))
	assert.False(t, free.Allows(VerificationDomain))

	pro := LimitsFor(TierPro)
	assert.True(t, pro.Allows(VerificationDomain))
	assert.False(t, pro.Allows(VerificationType("carrier-pigeon")))
}

func TestTierLimits_UpgradeGuidance(t *testing.T) {
	assert.Contains(t, LimitsFor(TierStarter).UpgradeGuidance(VerificationDomain), "DNS")
	assert.Contains(t, LimitsFor(TierFree).UpgradeGuidance(VerificationMailbox), "starter")
	assert.Contains(t, LimitsFor(TierEnterprise).UpgradeGuidance(VerificationMailbox), "support")
}
