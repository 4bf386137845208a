// Package queue is the durable job layer: payload shapes and idempotency
// keys, config-stamped enqueueing, lease-based workers, dispatch pacing,
// and the adaptive drainer that feeds them.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/normativhq/normativ/internal/model"
)

// ComposePayload is the work order for one fact group
type ComposePayload struct {
	FactIDs []string `json:"fact_ids"`
	Domain  string   `json:"domain,omitempty"` // Known up front, lets the blocklist fire before any load
}

// ReviewPayload asks the gate to evaluate one rule
type ReviewPayload struct {
	RuleID string `json:"rule_id"`
}

// ReleasePayload asks the builder to cut a release from approved rules
type ReleasePayload struct {
	RuleIDs     []string `json:"rule_ids"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

// ComposeKey derives the composition key for a fact set: the hex SHA-256 of
// the sorted, deduplicated ids. Order and duplicates in the input do not
// change the key, so the same group always maps to the same rule.
func ComposeKey(factIDs []string) string {
	return setHash(factIDs)
}

// ReleaseKey derives the release job key from the rule set being shipped
func ReleaseKey(ruleIDs []string) string {
	return setHash(ruleIDs)
}

func setHash(ids []string) string {
	uniq := sortedUnique(ids)
	sum := sha256.Sum256([]byte(strings.Join(uniq, "\n")))
	return hex.EncodeToString(sum[:])
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NewComposeJob builds the job that turns one fact group into a draft rule.
// The idempotency key embeds the composition key, so re-enqueueing the same
// fact set is a no-op all the way through to the rule row.
func NewComposeJob(factIDs []string, domain string) model.Job {
	payload, _ := json.Marshal(ComposePayload{FactIDs: sortedUnique(factIDs), Domain: domain})
	return model.Job{
		Queue:          model.QueueCompose,
		IdempotencyKey: "compose:" + ComposeKey(factIDs),
		Payload:        payload,
	}
}

// NewReviewJob builds the job that runs the review gate over one rule
func NewReviewJob(ruleID string) model.Job {
	payload, _ := json.Marshal(ReviewPayload{RuleID: ruleID})
	return model.Job{
		Queue:          model.QueueReview,
		IdempotencyKey: "review:" + ruleID,
		Payload:        payload,
	}
}

// NewReleaseJob builds the job that assembles a release from approved rules
func NewReleaseJob(ruleIDs []string, requestedBy string) model.Job {
	payload, _ := json.Marshal(ReleasePayload{RuleIDs: sortedUnique(ruleIDs), RequestedBy: requestedBy})
	return model.Job{
		Queue:          model.QueueRelease,
		IdempotencyKey: "release:" + ReleaseKey(ruleIDs),
		Payload:        payload,
	}
}
