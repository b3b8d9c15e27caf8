package model

import (
	"strings"
	"time"
)

// MaxEmails is the number of email slots a record carries.
const MaxEmails = 3

// Verification is the deliverability outcome for one address.
type Verification struct {
	Verified bool   `json:"verified"`
	Quality  int    `json:"quality"` // 0-100
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
}

// EmailSlot is one of a record's email addresses with its verification.
type EmailSlot struct {
	Address      string        `json:"address"`
	Verification *Verification `json:"verification,omitempty"`
}

// Classification is the website classification outcome.
type Classification struct {
	IsBlog bool   `json:"is_blog"`
	Score  int    `json:"score"`
	Notes  string `json:"notes,omitempty"`
}

// Socials holds contact links found on a record's website.
type Socials struct {
	LinkedIn    string `json:"linkedin,omitempty"`
	Instagram   string `json:"instagram,omitempty"`
	Facebook    string `json:"facebook,omitempty"`
	ContactForm string `json:"contact_form,omitempty"`
}

// Record is one uploaded row and its enrichment fields.
type Record struct {
	ID             int64                `json:"id"`
	UploadID       int64                `json:"upload_id"`
	Name           string               `json:"name,omitempty"`
	Company        string               `json:"company,omitempty"`
	Website        string               `json:"website,omitempty"`
	Emails         [MaxEmails]EmailSlot `json:"emails"`
	Classification *Classification      `json:"classification,omitempty"`
	Socials        Socials              `json:"socials"`
	Phone          string               `json:"phone,omitempty"`
	Source         string               `json:"source,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	ClassifiedAt   *time.Time           `json:"classified_at,omitempty"`
	DiscoveredAt   *time.Time           `json:"discovered_at,omitempty"`
	VerifiedAt     *time.Time           `json:"verified_at,omitempty"`
}

// Marker returns the processed marker for the given step.
func (r *Record) Marker(step Step) *time.Time {
	switch step {
	case StepClassify:
		return r.ClassifiedAt
	case StepDiscover:
		return r.DiscoveredAt
	case StepVerify:
		return r.VerifiedAt
	}
	return nil
}

// ProcessedFor reports whether every step in plan has its marker set.
func (r *Record) ProcessedFor(plan []Step) bool {
	if len(plan) == 0 {
		return false
	}
	for _, s := range plan {
		if r.Marker(s) == nil {
			return false
		}
	}
	return true
}

// Addresses returns the non-empty email addresses in slot order.
func (r *Record) Addresses() []string {
	var out []string
	for _, e := range r.Emails {
		if a := strings.TrimSpace(e.Address); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// RecordPatch is a field-level update to a record. Nil fields are left
// untouched so concurrent writers merge per field.
type RecordPatch struct {
	Emails         [MaxEmails]*EmailSlot
	Classification *Classification
	Socials        *Socials
	Phone          *string
	Source         *string
	AppendNote     string
	ClassifiedAt   *time.Time
	DiscoveredAt   *time.Time
	VerifiedAt     *time.Time
}

// Empty reports whether the patch changes nothing.
func (p RecordPatch) Empty() bool {
	for _, e := range p.Emails {
		if e != nil {
			return false
		}
	}
	return p.Classification == nil && p.Socials == nil && p.Phone == nil &&
		p.Source == nil && p.AppendNote == "" && p.ClassifiedAt == nil &&
		p.DiscoveredAt == nil && p.VerifiedAt == nil
}

// SetMarker sets the processed marker for step.
func (p *RecordPatch) SetMarker(step Step, at time.Time) {
	switch step {
	case StepClassify:
		p.ClassifiedAt = &at
	case StepDiscover:
		p.DiscoveredAt = &at
	case StepVerify:
		p.VerifiedAt = &at
	}
}

// NormalizeEmail lowercases and trims an address for comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeWebsite strips scheme, leading www., path slashes and case so
// "https://www.Example.com/" and "example.com" compare equal.
func NormalizeWebsite(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
