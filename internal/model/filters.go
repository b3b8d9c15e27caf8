package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Filters narrows the records a job runs over. All provided filters
// intersect.
type Filters struct {
	IDs           []int64  `json:"ids,omitempty"`
	Emails        []string `json:"emails,omitempty"`
	Websites      []string `json:"websites,omitempty"`
	SkipProcessed bool     `json:"skip_processed,omitempty"`
}

// Validate rejects malformed filter values.
func (f Filters) Validate() error {
	for _, id := range f.IDs {
		if id <= 0 {
			return eris.Errorf("model: invalid record id %d", id)
		}
	}
	for _, e := range f.Emails {
		if strings.TrimSpace(e) == "" {
			return eris.New("model: blank email filter")
		}
	}
	for _, w := range f.Websites {
		if strings.TrimSpace(w) == "" {
			return eris.New("model: blank website filter")
		}
	}
	return nil
}
