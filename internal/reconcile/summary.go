package reconcile

import "time"

// State is a step of a reconciliation run
type State string

const (
	StateInit     State = "init"
	StateFetched  State = "fetched"
	StatePlanned  State = "planned"
	StateApplying State = "applying"
	StateDone     State = "done"
)

// SkippedAccount is a planned mutation the directory answered with a
// tolerated error
type SkippedAccount struct {
	PrimaryEmail string `json:"primary_email"`
	Reason       string `json:"reason"`
}

// Summary reports what a run did. On abort it still describes every
// mutation applied before the failure.
type Summary struct {
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	FinalState State     `json:"final_state"`
	Aborted    bool      `json:"aborted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SourceRecords  int `json:"source_records"`
	TargetAccounts int `json:"target_accounts"`
	Malformed      int `json:"malformed"`
	Collisions     int `json:"collisions"`

	PlannedAdditions int `json:"planned_additions"`
	PlannedDisables  int `json:"planned_disables"`

	Attempted int              `json:"attempted"`
	Created   []string         `json:"created"`
	Disabled  []string         `json:"disabled"`
	Skipped   []SkippedAccount `json:"skipped"`
}

func newSummary(runID string, dryRun bool, now time.Time) *Summary {
	return &Summary{
		RunID:      runID,
		DryRun:     dryRun,
		FinalState: StateInit,
		StartedAt:  now,
		Created:    []string{},
		Disabled:   []string{},
		Skipped:    []SkippedAccount{},
	}
}

// Mutations is the number of accounts actually changed
func (s *Summary) Mutations() int {
	return len(s.Created) + len(s.Disabled)
}
