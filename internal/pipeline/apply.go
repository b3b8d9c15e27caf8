package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/leadflow/internal/enrich"
	"github.com/sells-group/leadflow/internal/model"
)

// Adapters are the per-record operations, one per step.
type Adapters struct {
	Classifier enrich.Classifier
	Discoverer enrich.Discoverer
	Verifier   enrich.Verifier
}

// buildPatch runs the step's adapter on rec and converts the outcome into
// a field-level patch. On a soft failure the patch may still carry partial
// results but never the step marker.
func (a Adapters) buildPatch(ctx context.Context, step model.Step, rec model.Record, now time.Time) (model.RecordPatch, error) {
	var (
		patch model.RecordPatch
		err   error
	)
	switch step {
	case model.StepClassify:
		patch, err = a.classify(ctx, rec)
	case model.StepDiscover:
		patch, err = a.discover(ctx, rec)
	case model.StepVerify:
		patch, err = a.verify(ctx, rec)
	default:
		return patch, enrich.Soft("unsupported step %s", step)
	}
	if err = enrich.Normalize(err); err == nil {
		patch.SetMarker(step, now)
	}
	return patch, err
}

func (a Adapters) classify(ctx context.Context, rec model.Record) (model.RecordPatch, error) {
	c, err := a.Classifier.Classify(ctx, rec)
	if err != nil {
		return model.RecordPatch{}, err
	}
	return model.RecordPatch{Classification: &c}, nil
}

// discover fills discovered addresses into the record's slots. An address
// already on the record keeps its slot and gets the new verification;
// new addresses take empty slots. Existing addresses are never replaced.
func (a Adapters) discover(ctx context.Context, rec model.Record) (model.RecordPatch, error) {
	res, err := a.Discoverer.Discover(ctx, rec)
	if enrich.IsFatal(err) {
		return model.RecordPatch{}, err
	}

	var patch model.RecordPatch
	slots := rec.Emails
	for _, d := range res.Emails {
		idx := -1
		for i, s := range slots {
			if model.NormalizeEmail(s.Address) == d.Address {
				idx = i
				break
			}
		}
		if idx < 0 {
			for i, s := range slots {
				if strings.TrimSpace(s.Address) == "" {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		v := d.Verification
		slots[idx] = model.EmailSlot{Address: d.Address, Verification: &v}
		patch.Emails[idx] = &slots[idx]
	}
	if res.Socials != (model.Socials{}) {
		s := res.Socials
		patch.Socials = &s
	}
	if res.Phone != "" && rec.Phone == "" {
		p := res.Phone
		patch.Phone = &p
	}
	if patch.Emails != [model.MaxEmails]*model.EmailSlot{} {
		src := "discovered"
		patch.Source = &src
	}
	return patch, err
}

// verify checks every non-empty slot. A slot whose check fails records an
// "error" outcome; the record fails only when every slot failed.
func (a Adapters) verify(ctx context.Context, rec model.Record) (model.RecordPatch, error) {
	var (
		patch   model.RecordPatch
		checked int
		failed  int
		lastErr error
	)
	for i, slot := range rec.Emails {
		addr := strings.TrimSpace(slot.Address)
		if addr == "" {
			continue
		}
		checked++
		v, err := a.Verifier.Verify(ctx, addr)
		if err != nil {
			if enrich.IsFatal(err) {
				return model.RecordPatch{}, err
			}
			failed++
			lastErr = err
			v = enrich.NewVerification(0, "error", enrich.Reason(enrich.Normalize(err)))
		}
		patch.Emails[i] = &model.EmailSlot{Address: addr, Verification: &v}
	}

	switch {
	case checked == 0:
		return patch, enrich.Soft("no emails to verify")
	case failed == checked:
		return patch, lastErr
	}
	return patch, nil
}
