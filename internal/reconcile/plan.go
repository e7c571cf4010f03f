package reconcile

import (
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
)

// Plan is the set difference between the authoritative source and the
// directory for one run. Additions and Disables never share an email.
type Plan struct {
	Additions []ldap.CanonicalAccount
	Disables  []string

	// Collisions lists target emails produced by more than one source
	// record. Only the first record is added.
	Collisions []string
}

// ComputePlan builds the plan.
//
//	additions = sourceAccounts - targetEmails - whitelist
//	disables  = targetEmails - sourceEmails - whitelist
//
// Additions keep the order of sourceAccounts and disables the order of
// targetEmails, so a plan is deterministic for a given input.
func ComputePlan(sourceEmails map[string]struct{}, sourceAccounts []ldap.CanonicalAccount, targetEmails []string, whitelist map[string]struct{}) Plan {
	target := make(map[string]struct{}, len(targetEmails))
	for _, email := range targetEmails {
		target[email] = struct{}{}
	}

	plan := Plan{
		Additions: []ldap.CanonicalAccount{},
		Disables:  []string{},
	}

	planned := make(map[string]struct{}, len(sourceAccounts))
	collided := make(map[string]struct{})
	for _, account := range sourceAccounts {
		email := account.PrimaryEmail
		if _, exists := target[email]; exists {
			continue
		}
		if _, exempt := whitelist[email]; exempt {
			continue
		}
		if _, seen := planned[email]; seen {
			if _, reported := collided[email]; !reported {
				collided[email] = struct{}{}
				plan.Collisions = append(plan.Collisions, email)
			}
			continue
		}
		planned[email] = struct{}{}
		plan.Additions = append(plan.Additions, account)
	}

	disabled := make(map[string]struct{}, len(targetEmails))
	for _, email := range targetEmails {
		if _, known := sourceEmails[email]; known {
			continue
		}
		if _, exempt := whitelist[email]; exempt {
			continue
		}
		if _, seen := disabled[email]; seen {
			continue
		}
		disabled[email] = struct{}{}
		plan.Disables = append(plan.Disables, email)
	}

	return plan
}
