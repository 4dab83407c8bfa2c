// Package profiles is the read-only view of monitored subjects and their
// caregivers. Profile management lives elsewhere.
package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/apperr"
)

var ErrProfileNotFound = fmt.Errorf("profile %w", apperr.ErrNotFound)

// Contact holds the addresses of one person for each channel.
type Contact struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DeviceToken string `json:"deviceToken"`
}

// Address returns the contact's address for ch, or "".
func (c Contact) Address(ch alertconfig.Channel) string {
	switch ch {
	case alertconfig.ChannelEmail:
		return c.Email
	case alertconfig.ChannelSMS:
		return c.Phone
	case alertconfig.ChannelPush:
		return c.DeviceToken
	}
	return ""
}

type Caregiver struct {
	Contact
	Role alertconfig.Role `json:"role"`
}

// Profile is a monitored subject.
type Profile struct {
	SubjectID int64 `json:"subjectId"`
	Contact
	Caregivers []Caregiver `json:"caregivers"`
}

// Store loads profiles.
type Store interface {
	GetProfile(ctx context.Context, subjectID int64) (Profile, error)
}

// Recipients lists the addresses for ch in delivery order: the subject's own
// first, then caregivers by role in the given priority. Empty addresses are
// skipped and duplicates collapse.
func (p Profile) Recipients(ch alertconfig.Channel, priority []alertconfig.Role) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	add(p.Address(ch))
	for _, role := range priority {
		for _, cg := range p.Caregivers {
			if cg.Role == role {
				add(cg.Address(ch))
			}
		}
	}
	return out
}

// Exists adapts a Store to falls.SubjectChecker.
type Exists struct {
	Store Store
}

func (e Exists) SubjectExists(ctx context.Context, subjectID int64) (bool, error) {
	_, err := e.Store.GetProfile(ctx, subjectID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
