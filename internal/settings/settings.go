// Package settings stores the admin-editable notification preferences.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
)

// Setting keys as stored in app_settings.
const (
	KeyNotificationEmail = "notification_email"
	KeyEmailEnabled      = "email_enabled"
)

// ErrInvalid is returned when an update carries a malformed value.
var ErrInvalid = errors.New("settings: invalid value")

// Settings are the notification preferences of the clinic.
type Settings struct {
	NotificationEmail string    `json:"notification_email"`
	EmailEnabled      bool      `json:"email_enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Defaults returns the settings used before anything has been saved.
func Defaults(notificationEmail string) *Settings {
	return &Settings{NotificationEmail: strings.TrimSpace(notificationEmail), EmailEnabled: true}
}

// Update is a partial change; nil fields are left alone.
type Update struct {
	NotificationEmail *string `json:"notification_email,omitempty"`
	EmailEnabled      *bool   `json:"email_enabled,omitempty"`
}

// Apply validates u and returns a copy of s with the change applied.
func (u Update) Apply(s *Settings, now time.Time) (*Settings, error) {
	out := *s
	if u.NotificationEmail != nil {
		email := strings.TrimSpace(*u.NotificationEmail)
		if email != "" {
			addr, err := mail.ParseAddress(email)
			if err != nil || addr.Address != email {
				return nil, fmt.Errorf("%w: notification_email %q", ErrInvalid, email)
			}
		}
		out.NotificationEmail = email
	}
	if u.EmailEnabled != nil {
		out.EmailEnabled = *u.EmailEnabled
	}
	out.UpdatedAt = now.UTC()
	return &out, nil
}

// Store reads and writes the settings.
type Store interface {
	Get(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

// MemoryStore keeps settings in process, for development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	current  *Settings
	defaults *Settings
}

// NewMemoryStore returns a store that starts from defaults.
func NewMemoryStore(defaults *Settings) *MemoryStore {
	if defaults == nil {
		defaults = Defaults("")
	}
	return &MemoryStore{defaults: defaults}
}

func (m *MemoryStore) Get(ctx context.Context) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		cp := *m.defaults
		return &cp, nil
	}
	cp := *m.current
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.current = &cp
	return nil
}
