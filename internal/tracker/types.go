// Package tracker defines the core types and interfaces for the rank
// reconciliation engine. It includes the project/group/keyword aggregates,
// position observations, and run records shared by the orchestration layers.
package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Trend classifies rank movement between consecutive observations.
type Trend string

// Trend values persisted in positions.trend.
const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// RunStatus mirrors the run_records status column.
type RunStatus string

// Run statuses persisted in run_records.status.
const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// RunJobName is the job_name stored for every supervisor invocation.
const RunJobName = "position_check"

// Project is an eagerly loaded aggregate: it owns its groups, each group owns
// its keywords. The core never mutates a project; the CRUD layer owns writes.
type Project struct {
	ID         uuid.UUID
	Domain     string
	TopvisorID *int64
	Groups     []Group
}

// Group is one region/engine slice of a project tracked at the provider.
type Group struct {
	ID         uuid.UUID
	Title      string
	Region     string
	TopvisorID *int64
	IsArchived bool
	Keywords   []Keyword
}

// Keyword is a tracked search term with its per-tier pricing.
type Keyword struct {
	ID           uuid.UUID
	Text         string
	PriceTop1_3  int
	PriceTop4_5  int
	PriceTop6_10 int
	IsCheck      bool
}

// Position is one append-only rank observation for a keyword. Rank and
// frequency are nil when unknown; PreviousPosition snapshots the prior
// observation's rank at write time.
type Position struct {
	ID               uuid.UUID
	KeywordID        uuid.UUID
	CheckedAt        time.Time
	Position         *int
	Frequency        *int
	PreviousPosition *int
	Cost             int
	Trend            Trend
}

// RunResult is the structured payload stored on a completed run record.
type RunResult struct {
	FailedProjects      []string `json:"failed_projects"`
	AccessDeniedDomains []string `json:"access_denied_domains"`
}

// RunRecord is the durable status row for one supervisor invocation.
type RunRecord struct {
	ID           uuid.UUID
	JobID        string
	JobName      string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	Result       *RunResult
	ErrorMessage *string
}

// FrequencyMap maps lower-cased keyword text to its search volume for the
// current run. Derived per group, never persisted.
type FrequencyMap map[string]int

// Cost returns the payout for a rank given the keyword's price tiers.
// Unknown or below-top-10 ranks pay nothing.
func (k Keyword) Cost(position *int) int {
	if position == nil {
		return 0
	}
	switch p := *position; {
	case p < 1 || p > 10:
		return 0
	case p <= 3:
		return k.PriceTop1_3
	case p <= 5:
		return k.PriceTop4_5
	default:
		return k.PriceTop6_10
	}
}

// TrendOf classifies movement from previous to current rank. Movement is
// only meaningful when both ranks are known; lower numbers rank better.
func TrendOf(position, previous *int) Trend {
	if position == nil || previous == nil {
		return TrendStable
	}
	switch {
	case *position < *previous:
		return TrendUp
	case *position > *previous:
		return TrendDown
	default:
		return TrendStable
	}
}
