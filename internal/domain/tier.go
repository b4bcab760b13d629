package domain

type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits is derived per request from the tenant's tier; it is never stored on a sender.
type TierLimits struct {
	Tier          Tier `json:"tier"`
	MaxSenders    int  `json:"max_senders"`
	CanUseDNS     bool `json:"can_use_dns"`
	CanUseMailbox bool `json:"can_use_mailbox"`
}

var tierLimits = map[Tier]TierLimits{
	TierFree:       {Tier: TierFree, MaxSenders: 1, CanUseMailbox: true},
	TierStarter:    {Tier: TierStarter, MaxSenders: 3, CanUseMailbox: true},
	TierPro:        {Tier: TierPro, MaxSenders: 10, CanUseDNS: true, CanUseMailbox: true},
	TierEnterprise: {Tier: TierEnterprise, MaxSenders: 50, CanUseDNS: true, CanUseMailbox: true},
}

// LimitsFor returns the limits for t, falling back to the free tier for unknown values.
func LimitsFor(t Tier) TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// Allows reports whether verification type vt is available on this tier.
func (l TierLimits) Allows(vt VerificationType) bool {
	switch vt {
	case VerificationDomain:
		return l.CanUseDNS
	case VerificationMailbox:
		return l.CanUseMailbox
	}
	return false
}

// UpgradeGuidance names the cheapest tier that lifts the given restriction.
func (l TierLimits) UpgradeGuidance(vt VerificationType) string {
	if vt == VerificationDomain && !l.CanUseDNS {
		return "upgrade to the pro plan to verify whole domains via DNS"
	}
	switch l.Tier {
	case TierFree:
		return "upgrade to the starter plan for up to 3 senders"
	case TierStarter:
		return "upgrade to the pro plan for up to 10 senders"
	case TierPro:
		return "upgrade to the enterprise plan for up to 50 senders"
	}
	return "remove an existing sender or contact support to raise your limit"
}
