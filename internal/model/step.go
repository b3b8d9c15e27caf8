package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Step is one enrichment kind that a job can run over its scope.
type Step string

const (
	StepClassify Step = "classify" // website classification (blog check)
	StepDiscover Step = "discover" // contact-email discovery, verifies what it finds
	StepVerify   Step = "verify"   // deliverability verification of existing emails
)

// AllSteps lists every step in canonical execution order.
var AllSteps = []Step{StepClassify, StepDiscover, StepVerify}

// stepAliases maps the legacy step names still sent by older clients.
var stepAliases = map[string]Step{
	"classify":     StepClassify,
	"blog_check":   StepClassify,
	"discover":     StepDiscover,
	"email_scrape": StepDiscover,
	"verify":       StepVerify,
	"email_verify": StepVerify,
}

// ParseStep resolves a step name or one of its legacy aliases.
func ParseStep(s string) (Step, error) {
	step, ok := stepAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", eris.Errorf("model: unknown step %q", s)
	}
	return step, nil
}

// ParseSteps resolves a list of step names. Duplicates are kept; the
// planner collapses them.
func ParseSteps(names []string) ([]Step, error) {
	steps := make([]Step, 0, len(names))
	for _, n := range names {
		step, err := ParseStep(n)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Rank returns the canonical position of the step, or -1 when unknown.
func (s Step) Rank() int {
	for i, st := range AllSteps {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s.Rank() >= 0
}

func (s Step) String() string {
	return string(s)
}
