// Package enrich holds the per-record operations the pipeline runs: website
// classification, contact discovery and email verification.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/leadflow/internal/model"
)

// VerifiedThreshold is the minimum quality for an address to count as
// deliverable.
const VerifiedThreshold = 85

// Classifier decides whether a record's website is a blog.
type Classifier interface {
	Classify(ctx context.Context, rec model.Record) (model.Classification, error)
}

// DiscoveredEmail is an address found on a website together with its
// verification outcome.
type DiscoveredEmail struct {
	Address      string
	Verification model.Verification
}

// DiscoverResult is what a discovery run found on a website. Every address
// carries a verification outcome.
type DiscoverResult struct {
	Emails  []DiscoveredEmail
	Socials model.Socials
	Phone   string
}

// Discoverer finds contact details on a record's website.
type Discoverer interface {
	Discover(ctx context.Context, rec model.Record) (DiscoverResult, error)
}

// Verifier checks deliverability of one address.
type Verifier interface {
	Verify(ctx context.Context, address string) (model.Verification, error)
}

// NewVerification builds an outcome, deriving Verified from quality.
func NewVerification(quality int, status, notes string) model.Verification {
	return model.Verification{
		Verified: quality >= VerifiedThreshold,
		Quality:  quality,
		Status:   status,
		Notes:    notes,
	}
}

// SoftFailure is a per-record failure. The job continues and the reason is
// noted on the record.
type SoftFailure struct {
	Reason string
	Err    error
}

func (e *SoftFailure) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *SoftFailure) Unwrap() error { return e.Err }

// Soft returns a SoftFailure with a formatted reason.
func Soft(format string, args ...any) error {
	return &SoftFailure{Reason: fmt.Sprintf(format, args...)}
}

// SoftWrap returns a SoftFailure wrapping err.
func SoftWrap(err error, reason string) error {
	return &SoftFailure{Reason: reason, Err: err}
}

// FatalError aborts the whole job.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError. Nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Normalize maps any adapter error onto the two failure kinds: fatal errors
// pass through and everything else becomes a SoftFailure.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	var sf *SoftFailure
	if errors.As(err, &sf) {
		return sf
	}
	return &SoftFailure{Reason: "operation failed", Err: err}
}

// Reason returns the short text written to a record's notes for err.
func Reason(err error) string {
	var sf *SoftFailure
	if errors.As(err, &sf) {
		if sf.Err != nil {
			return sf.Reason + " (" + sf.Err.Error() + ")"
		}
		return sf.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
