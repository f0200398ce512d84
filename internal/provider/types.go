// Package provider implements the rate-limited client for the external
// ranking provider's JSON API.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CodeAccessDenied is the provider error code reserved for permission
// failures. It is semantically distinct from every other error code: the
// orchestrator stops working on a group as soon as it sees it.
const CodeAccessDenied = 54

// APIError is a well-formed business error returned by the provider inside
// an errors[] payload. It is never retried.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"string"`
	Detail  string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d", e.Code)
}

// IsAccessDenied reports whether err carries the access-denied code.
func IsAccessDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeAccessDenied
}

// envelope is the common response shape: either result or errors is set.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Errors []APIError      `json:"errors"`
}

// PositionCell is one per-date-and-region rank entry. The provider encodes
// rank as a string; "--" means the domain was not found in the top results.
type PositionCell struct {
	Position string `json:"position"`
}

// NotFoundSentinel is the provider's marker for a missing rank.
const NotFoundSentinel = "--"

// KeywordRanks holds one keyword's rank data keyed by
// "<date>:<project_id>:<region_index>".
type KeywordRanks struct {
	Name          string                  `json:"name"`
	PositionsData map[string]PositionCell `json:"positionsData"`
}

// ResultBatch is the keywords array of a positions history response.
type ResultBatch []KeywordRanks

// Ready reports whether the batch is complete: non-empty, with rank data
// present for every keyword. The provider fills positionsData incrementally
// while its check job runs.
func (b ResultBatch) Ready() bool {
	if len(b) == 0 {
		return false
	}
	for _, item := range b {
		if len(item.PositionsData) == 0 {
			return false
		}
	}
	return true
}

// ProjectInfo is the subset of provider project metadata the engine reads.
// The provider encodes id as a string or a bare number depending on the
// endpoint, so it is kept as json.Number.
type ProjectInfo struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
	Site string      `json:"site"`
}
