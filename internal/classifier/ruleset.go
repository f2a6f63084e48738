// Package classifier maps the free-form status strings reported by remote
// batch backends onto canonical task states. The mapping is regex driven and
// hot-reloadable: readers always see one fully compiled rule set via an
// atomic snapshot, never a half-updated mix of old and new patterns.
package classifier

import (
	"regexp"
	"sync/atomic"

	"github.com/taskbridge/taskbridge/constants"
	"github.com/taskbridge/taskbridge/internal/common"
)

// Config is the externally supplied, hot-reloadable rule configuration.
// A nil BatchReconciliation means enabled.
type Config struct {
	StatusFields        []string `yaml:"status_fields"`
	CancellingRegex     string   `yaml:"cancelling_regex"`
	CancelledRegex      string   `yaml:"cancelled_regex"`
	CompletedRegex      string   `yaml:"completed_regex"`
	ExpiredRegex        string   `yaml:"expired_regex"`
	BatchReconciliation *bool    `yaml:"batch_reconciliation"`
}

// DefaultConfig covers the SageMaker-style vocabulary out of the box, so the
// service runs without a rule file.
func DefaultConfig() Config {
	return Config{
		StatusFields:    []string{"TransformJobStatus", "status"},
		CancellingRegex: "(stopping|cancelling|canceling)",
		CancelledRegex:  "(stopped|cancelled|canceled)",
		CompletedRegex:  "(completed|succeeded)",
		ExpiredRegex:    "(expired|timed out|timeout)",
	}
}

type rule struct {
	state constants.TaskState
	re    *regexp.Regexp
}

// RuleSet is one immutable, fully compiled snapshot of the configuration.
type RuleSet struct {
	statusFields []string
	// Evaluation order matters: CANCELLING must be tried before CANCELLED
	// since "stopping" vocabularies often share a stem with "stopped".
	rules        []rule
	batchEnabled bool
}

// Compile builds an immutable rule set from cfg. Patterns are matched
// case-insensitively anywhere in the status value.
func Compile(cfg Config) (*RuleSet, error) {
	fields := cfg.StatusFields
	if len(fields) == 0 {
		fields = DefaultConfig().StatusFields
	}
	rs := &RuleSet{
		statusFields: append([]string(nil), fields...),
		batchEnabled: cfg.BatchReconciliation == nil || *cfg.BatchReconciliation,
	}
	ordered := []struct {
		state   constants.TaskState
		pattern string
	}{
		{constants.TaskStateCancelling, cfg.CancellingRegex},
		{constants.TaskStateCancelled, cfg.CancelledRegex},
		{constants.TaskStateCompleted, cfg.CompletedRegex},
		{constants.TaskStateExpired, cfg.ExpiredRegex},
	}
	for _, o := range ordered {
		if o.pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + o.pattern)
		if err != nil {
			return nil, common.Configuration("invalid status pattern for state "+string(o.state), err)
		}
		rs.rules = append(rs.rules, rule{state: o.state, re: re})
	}
	return rs, nil
}

// MustCompile panics on a bad configuration; for compiled-in defaults only.
func MustCompile(cfg Config) *RuleSet {
	rs, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return rs
}

// StatusFields returns the configured field names in evaluation order.
func (rs *RuleSet) StatusFields() []string {
	return rs.statusFields
}

// BatchEnabled reports whether batch-prediction reconciliation is
// administratively enabled in this snapshot.
func (rs *RuleSet) BatchEnabled() bool {
	return rs.batchEnabled
}

// Match evaluates a single status value against the patterns in priority
// order and returns the first state whose pattern matches.
func (rs *RuleSet) Match(value string) (constants.TaskState, bool) {
	for _, r := range rs.rules {
		if r.re.MatchString(value) {
			return r.state, true
		}
	}
	return "", false
}

// Holder publishes the active rule set. Swaps are atomic replacements of the
// whole snapshot; in-flight reconciliations keep the snapshot they started
// with.
type Holder struct {
	ptr atomic.Pointer[RuleSet]
}

func NewHolder(rs *RuleSet) *Holder {
	h := &Holder{}
	h.ptr.Store(rs)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *RuleSet {
	return h.ptr.Load()
}

// Swap replaces the active snapshot.
func (h *Holder) Swap(rs *RuleSet) {
	h.ptr.Store(rs)
}
