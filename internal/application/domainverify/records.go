package domainverify

import (
	"fmt"
	"strings"

	"github.com/sender-identity/internal/application/identity"
	"github.com/sender-identity/internal/domain"
)

const (
	dkimTarget = "dkim.amazonses.com"
	zoneTTL    = 1800
)

// Records derives the DNS records a tenant must publish: one TXT ownership
// record and one CNAME per DKIM token.
func Records(domainName, verificationToken string, dkimTokens []string) []domain.DNSRecord {
	name := strings.ToLower(domainName)
	records := make([]domain.DNSRecord, 0, 1+len(dkimTokens))
	records = append(records, domain.DNSRecord{
		Type:    domain.DNSRecordTXT,
		Name:    "_amazonses." + name,
		Value:   verificationToken,
		Purpose: "ownership",
	})
	for _, tok := range dkimTokens {
		records = append(records, domain.DNSRecord{
			Type:    domain.DNSRecordCNAME,
			Name:    fmt.Sprintf("%s._domainkey.%s", tok, name),
			Value:   fmt.Sprintf("%s.%s", tok, dkimTarget),
			Purpose: "dkim",
		})
	}
	return records
}

func Instructions(domainName string, records []domain.DNSRecord) []string {
	steps := []string{
		fmt.Sprintf("Sign in to the DNS provider that hosts %s.", domainName),
	}
	for _, r := range records {
		switch r.Type {
		case domain.DNSRecordTXT:
			steps = append(steps, fmt.Sprintf("Add a TXT record named %s with the value %q.", r.Name, r.Value))
		case domain.DNSRecordCNAME:
			steps = append(steps, fmt.Sprintf("Add a CNAME record named %s pointing to %s.", r.Name, r.Value))
		}
	}
	steps = append(steps,
		"Save the changes. Some providers append the domain automatically; if so, enter only the part before your domain.",
		"Verification completes on its own once the records are visible. Unverified domains expire after 24 hours.",
	)
	return steps
}

// EstimatedVerificationTime is a rough user-facing estimate; DKIM records
// propagate more slowly than a single TXT record.
func EstimatedVerificationTime(records []domain.DNSRecord) string {
	for _, r := range records {
		if r.Type == domain.DNSRecordCNAME {
			return "usually within 1 hour, up to 72 hours for DNS propagation"
		}
	}
	return "usually within 15 minutes, up to 72 hours for DNS propagation"
}

func Troubleshooting(status domain.VerificationStatus, reason string) []string {
	switch status {
	case domain.StatusPending:
		return []string{
			"Check that each record name and value was copied exactly, without extra quotes or spaces.",
			"Make sure the domain name is not duplicated, for example _amazonses.example.com.example.com.",
			"DNS changes can take time to propagate; the status is checked every hour.",
		}
	case domain.StatusFailed:
		tips := []string{
			"The provider could not find the expected records. Correct them and register the domain again.",
		}
		if reason != "" {
			tips = append([]string{"Reported reason: " + reason}, tips...)
		}
		return tips
	case domain.StatusTimedOut:
		return []string{
			"Verification was not completed within 24 hours and the identity was released.",
			"Delete the sender and add it again to receive fresh DNS records.",
		}
	}
	return nil
}

// DKIMTroubleshooting explains a DKIM status that is holding up signing.
func DKIMTroubleshooting(status identity.Status) []string {
	switch status {
	case identity.StatusPending:
		return []string{"DKIM is not active yet. Publish every CNAME record under _domainkey; signing starts once all are found."}
	case identity.StatusFailed:
		return []string{"DKIM records were not found. Check that each <token>._domainkey record is a CNAME to <token>.dkim.amazonses.com."}
	case identity.StatusNotFound:
		return []string{"The provider no longer knows this domain identity. Register the domain again to get fresh records."}
	}
	return nil
}

// ZoneSnippet renders records in BIND zone file syntax.
func ZoneSnippet(records []domain.DNSRecord) string {
	var b strings.Builder
	for _, r := range records {
		value := r.Value
		switch r.Type {
		case domain.DNSRecordTXT:
			value = fmt.Sprintf("%q", r.Value)
		case domain.DNSRecordCNAME:
			value = r.Value + "."
		}
		fmt.Fprintf(&b, "%s.\t%d\tIN\t%s\t%s\n", r.Name, zoneTTL, r.Type, value)
	}
	return b.String()
}
