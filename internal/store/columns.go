package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// emailPrefixes name the column group of each email slot.
var emailPrefixes = [model.MaxEmails]string{"email", "email_2", "email_3"}

// recordColumns is the select list shared by both dialects; scanRecord
// reads it in this order.
var recordColumns = func() string {
	cols := []string{"id", "upload_id", "name", "company", "website"}
	for _, p := range emailPrefixes {
		cols = append(cols, p, p+"_verified", p+"_quality", p+"_status", p+"_notes")
	}
	cols = append(cols,
		"is_blog", "blog_score", "blog_notes",
		"linkedin", "instagram", "facebook", "contact_form",
		"phone", "source", "notes",
		"classified_at", "discovered_at", "verified_at",
	)
	return strings.Join(cols, ", ")
}()

// insertColumns are the columns set when a record is imported.
var insertColumns = []string{"upload_id", "name", "company", "website", "email", "email_2", "email_3", "phone", "source"}

func insertValues(uploadID int64, r model.Record) []any {
	return []any{
		uploadID, r.Name, r.Company, r.Website,
		r.Emails[0].Address, r.Emails[1].Address, r.Emails[2].Address,
		r.Phone, r.Source,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

type nullSlot struct {
	address  sql.NullString
	verified sql.NullBool
	quality  sql.NullInt64
	status   sql.NullString
	notes    sql.NullString
}

func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var name, company, website sql.NullString
	var slots [model.MaxEmails]nullSlot
	var isBlog sql.NullBool
	var blogScore sql.NullInt64
	var blogNotes, linkedin, instagram, facebook, contactForm, phone, source, notes sql.NullString
	var classifiedAt, discoveredAt, verifiedAt sql.NullTime

	dest := []any{&r.ID, &r.UploadID, &name, &company, &website}
	for i := range slots {
		s := &slots[i]
		dest = append(dest, &s.address, &s.verified, &s.quality, &s.status, &s.notes)
	}
	dest = append(dest,
		&isBlog, &blogScore, &blogNotes,
		&linkedin, &instagram, &facebook, &contactForm,
		&phone, &source, &notes,
		&classifiedAt, &discoveredAt, &verifiedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.Name, r.Company, r.Website = name.String, company.String, website.String
	for i, s := range slots {
		r.Emails[i].Address = s.address.String
		if s.verified.Valid || s.quality.Valid || s.status.Valid {
			r.Emails[i].Verification = &model.Verification{
				Verified: s.verified.Bool,
				Quality:  int(s.quality.Int64),
				Status:   s.status.String,
				Notes:    s.notes.String,
			}
		}
	}
	if isBlog.Valid {
		r.Classification = &model.Classification{
			IsBlog: isBlog.Bool,
			Score:  int(blogScore.Int64),
			Notes:  blogNotes.String,
		}
	}
	r.Socials = model.Socials{
		LinkedIn:    linkedin.String,
		Instagram:   instagram.String,
		Facebook:    facebook.String,
		ContactForm: contactForm.String,
	}
	r.Phone, r.Source, r.Notes = phone.String, source.String, notes.String
	r.ClassifiedAt = nullTimePtr(classifiedAt)
	r.DiscoveredAt = nullTimePtr(discoveredAt)
	r.VerifiedAt = nullTimePtr(verifiedAt)
	return &r, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

type assignment struct {
	col string
	val any
}

// patchAssignments flattens a patch into column assignments. Empty social
// links and an empty phone are skipped so a discover run that found
// nothing new keeps earlier values.
func patchAssignments(p model.RecordPatch) []assignment {
	var out []assignment
	set := func(col string, val any) { out = append(out, assignment{col, val}) }

	for i, slot := range p.Emails {
		if slot == nil {
			continue
		}
		pre := emailPrefixes[i]
		set(pre, slot.Address)
		if v := slot.Verification; v != nil {
			set(pre+"_verified", v.Verified)
			set(pre+"_quality", v.Quality)
			set(pre+"_status", v.Status)
			set(pre+"_notes", v.Notes)
		}
	}
	if c := p.Classification; c != nil {
		set("is_blog", c.IsBlog)
		set("blog_score", c.Score)
		set("blog_notes", c.Notes)
	}
	if s := p.Socials; s != nil {
		for _, l := range []assignment{
			{"linkedin", s.LinkedIn},
			{"instagram", s.Instagram},
			{"facebook", s.Facebook},
			{"contact_form", s.ContactForm},
		} {
			if l.val != "" {
				out = append(out, l)
			}
		}
	}
	if p.Phone != nil && *p.Phone != "" {
		set("phone", *p.Phone)
	}
	if p.Source != nil {
		set("source", *p.Source)
	}
	if p.ClassifiedAt != nil {
		set("classified_at", p.ClassifiedAt.UTC())
	}
	if p.DiscoveredAt != nil {
		set("discovered_at", p.DiscoveredAt.UTC())
	}
	if p.VerifiedAt != nil {
		set("verified_at", p.VerifiedAt.UTC())
	}
	return out
}

// buildPatchUpdate renders the single UPDATE statement for a patch. The
// placeholder func renders the n-th (1-based) bind parameter. Notes are
// appended in SQL so concurrent writers never drop each other's notes.
func buildPatchUpdate(id int64, p model.RecordPatch, now time.Time, placeholder func(n int) string) (string, []any, error) {
	assigns := patchAssignments(p)
	if len(assigns) == 0 && p.AppendNote == "" {
		return "", nil, eris.New("store: empty patch")
	}

	var b strings.Builder
	args := make([]any, 0, len(assigns)+3)
	b.WriteString("UPDATE records SET ")
	for _, a := range assigns {
		args = append(args, a.val)
		fmt.Fprintf(&b, "%s = %s, ", a.col, placeholder(len(args)))
	}
	if p.AppendNote != "" {
		args = append(args, p.AppendNote)
		fmt.Fprintf(&b, "notes = COALESCE(NULLIF(notes, '') || '; ', '') || %s, ", placeholder(len(args)))
	}
	args = append(args, now)
	fmt.Fprintf(&b, "updated_at = %s", placeholder(len(args)))
	args = append(args, id)
	fmt.Fprintf(&b, " WHERE id = %s", placeholder(len(args)))
	return b.String(), args, nil
}
