package domain

import (
	"encoding/json"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Subscription is one recipient's notification settings.
// A zero value field means "unset" and never carries triggers.
type Subscription struct {
	RecipientID  string    `json:"recipient_id" yaml:"recipient_id"`
	Handle       string    `json:"handle,omitempty" yaml:"handle,omitempty"`
	SourceUserID string    `json:"source_user_id,omitempty" yaml:"source_user_id,omitempty"`
	GuildID      uint64    `json:"guild_id" yaml:"guild_id"`
	Roles        StringSet `json:"roles" yaml:"roles"`
	Channels     StringSet `json:"channels" yaml:"channels"`
	Verified     bool      `json:"verified" yaml:"verified"`
	AlertsActive *bool     `json:"alerts_active,omitempty" yaml:"alerts_active,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// NewSubscription returns a placeholder record for a recipient seen for the first time.
func NewSubscription(recipientID string, guildID uint64) Subscription {
	return Subscription{
		RecipientID: recipientID,
		GuildID:     guildID,
		Roles:       NewStringSet(),
		Channels:    NewStringSet(),
	}
}

// IsActive reports whether alerts are switched on. Absent means active.
func (s Subscription) IsActive() bool {
	return s.AlertsActive == nil || *s.AlertsActive
}

// SetActive sets the alerts switch.
func (s *Subscription) SetActive(active bool) {
	s.AlertsActive = &active
}

// AllowsChannel reports whether the channel whitelist admits the channel.
// An empty whitelist admits every channel.
func (s Subscription) AllowsChannel(name string) bool {
	if s.Channels.Len() == 0 {
		return true
	}
	return s.Channels.Has(name)
}

// Clone returns a deep copy safe to mutate.
func (s Subscription) Clone() Subscription {
	c := s
	c.Roles = s.Roles.Clone()
	c.Channels = s.Channels.Clone()
	if s.AlertsActive != nil {
		v := *s.AlertsActive
		c.AlertsActive = &v
	}
	return c
}

// StringSet is an unordered set of strings. It serializes as a sorted list.
type StringSet map[string]struct{}

// NewStringSet builds a set from values, dropping duplicates.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports membership. Safe on a nil set.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of members. Safe on a nil set.
func (s StringSet) Len() int {
	return len(s)
}

// Add inserts v.
func (s StringSet) Add(v string) {
	s[v] = struct{}{}
}

// Remove deletes v.
func (s StringSet) Remove(v string) {
	delete(s, v)
}

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Clone returns a copy. A nil set clones to an empty set.
func (s StringSet) Clone() StringSet {
	c := make(StringSet, len(s))
	for v := range s {
		c[v] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts an array or a single string.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		var single string
		if errSingle := json.Unmarshal(data, &single); errSingle != nil {
			return err
		}
		list = []string{single}
	}
	*s = NewStringSet(list...)
	return nil
}

// MarshalYAML encodes the set as a sorted sequence.
func (s StringSet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

// UnmarshalYAML accepts a sequence or a single scalar.
func (s *StringSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Tag == "!!null" {
			*s = NewStringSet()
			return nil
		}
		*s = NewStringSet(value.Value)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = NewStringSet(list...)
	return nil
}
