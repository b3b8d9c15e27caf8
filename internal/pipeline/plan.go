package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// elides lists steps made redundant by another requested step. Discovery
// verifies every address it finds, so a separate verify pass is dropped.
var elides = map[model.Step][]model.Step{
	model.StepDiscover: {model.StepVerify},
}

// Plan turns a requested step set into the ordered list a job runs.
// Duplicates collapse and input order is ignored.
func Plan(requested []model.Step) ([]model.Step, error) {
	if len(requested) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "no steps requested")
	}

	want := make(map[model.Step]bool, len(requested))
	for _, s := range requested {
		if !s.Valid() {
			return nil, eris.Wrapf(ErrInvalidRequest, "unknown step %q", s)
		}
		want[s] = true
	}
	for s := range want {
		for _, dropped := range elides[s] {
			delete(want, dropped)
		}
	}

	plan := make([]model.Step, 0, len(want))
	for _, s := range model.AllSteps {
		if want[s] {
			plan = append(plan, s)
		}
	}
	return plan, nil
}

// ParsePlan parses step names, accepting legacy aliases, and plans them.
func ParsePlan(names []string) ([]model.Step, error) {
	steps, err := model.ParseSteps(names)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidRequest, err.Error())
	}
	return Plan(steps)
}
