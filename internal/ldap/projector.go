package ldap

import (
	"strings"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"go.uber.org/zap"
)

// Projector maps authoritative records onto the target directory domain
type Projector struct {
	sourceDomains map[string]struct{}
	targetDomain  string
	logger        *logging.Logger
}

// NewProjector creates a projector for the allow-listed source domains
func NewProjector(sourceDomains []string, targetDomain string, logger *logging.Logger) *Projector {
	domains := make(map[string]struct{}, len(sourceDomains))
	for _, domain := range sourceDomains {
		domains[strings.ToLower(strings.TrimSpace(domain))] = struct{}{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Projector{
		sourceDomains: domains,
		targetDomain:  strings.ToLower(targetDomain),
		logger:        logger,
	}
}

// TargetEmail rewrites email onto the target domain
func (p *Projector) TargetEmail(email string) string {
	local, _ := splitEmail(normalizeEmail(email))
	return local + "@" + p.targetDomain
}

// Allowed reports whether the record's source domain is allow-listed
func (p *Projector) Allowed(record Record) bool {
	_, ok := p.sourceDomains[record.Domain()]
	return ok
}

// ToEmails returns the target-domain emails of allow-listed records.
// Names are not required here: a known person is never disabled just
// because the export lacks their name.
func (p *Projector) ToEmails(records []Record) map[string]struct{} {
	emails := make(map[string]struct{}, len(records))
	for _, record := range records {
		if !p.Allowed(record) {
			continue
		}
		emails[p.TargetEmail(record.Email)] = struct{}{}
	}
	return emails
}

// ToCanonicalAccounts projects allow-listed records into creatable accounts.
// Records missing a name are logged and returned as malformed, never raised.
func (p *Projector) ToCanonicalAccounts(records []Record) ([]CanonicalAccount, []MalformedRecord) {
	accounts := make([]CanonicalAccount, 0, len(records))
	var malformed []MalformedRecord

	for _, record := range records {
		if !p.Allowed(record) {
			continue
		}

		if !record.HasNames() {
			reason := missingNameReason(record)
			p.logger.Structured(logging.ERROR, "Could not process user",
				zap.String("record", record.Key),
				zap.String("reason", reason),
			)
			malformed = append(malformed, MalformedRecord{Key: record.Key, Reason: reason})
			continue
		}

		accounts = append(accounts, CanonicalAccount{
			PrimaryEmail: p.TargetEmail(record.Email),
			FirstName:    record.FirstName,
			LastName:     record.LastName,
			SourceEmail:  record.Email,
		})
	}

	return accounts, malformed
}

func missingNameReason(record Record) string {
	switch {
	case record.FirstName == "" && record.LastName == "":
		return "missing " + fieldFirstName + " and " + fieldLastName
	case record.FirstName == "":
		return "missing " + fieldFirstName
	default:
		return "missing " + fieldLastName
	}
}
