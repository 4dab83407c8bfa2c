package falls

import (
	"context"
	"time"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Filter narrows ListEvents. Nil fields match everything.
type Filter struct {
	SubjectID *int64
	Status    *Status
	Page      int
	PerPage   int
}

// Normalize clamps paging to sane values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// Offset is the zero-based row offset of the filter's page.
func (f Filter) Offset() int {
	f = f.Normalize()
	return (f.Page - 1) * f.PerPage
}

// Page is one page of events, newest detection first.
type Page struct {
	Data     []Event `json:"data"`
	Page     int     `json:"page"`
	PerPage  int     `json:"perPage"`
	Total    int     `json:"total"`
	LastPage int     `json:"lastPage"`
}

// NewPage fills in the derived paging fields.
func NewPage(data []Event, f Filter, total int) Page {
	f = f.Normalize()
	last := (total + f.PerPage - 1) / f.PerPage
	if last < 1 {
		last = 1
	}
	if data == nil {
		data = []Event{}
	}
	return Page{Data: data, Page: f.Page, PerPage: f.PerPage, Total: total, LastPage: last}
}

// Store persists fall events. Soft-deleted events are invisible to every
// read method.
type Store interface {
	CreateEvent(ctx context.Context, e Event) (Event, error)
	GetEvent(ctx context.Context, id int64) (Event, error)
	ListEvents(ctx context.Context, f Filter) (Page, error)
	// DetectedEvents returns every live event still in the detected state.
	DetectedEvents(ctx context.Context) ([]Event, error)
	// UpdateEvent writes the mutable fields of e only if the stored status is
	// still expected. It returns ErrStale otherwise.
	UpdateEvent(ctx context.Context, e Event, expected Status) (Event, error)
	SoftDeleteEvent(ctx context.Context, id int64, at time.Time) error
}
