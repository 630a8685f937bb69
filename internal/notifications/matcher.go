package notifications

import (
	"cmp"
	"slices"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
)

// MatchKind says why a recipient was selected for an event.
type MatchKind string

// Match kinds, in delivery order.
const (
	MatchHandle    MatchKind = "handle"
	MatchRole      MatchKind = "role"
	MatchBroadcast MatchKind = "broadcast"
)

func (k MatchKind) rank() int {
	switch k {
	case MatchHandle:
		return 0
	case MatchRole:
		return 1
	default:
		return 2
	}
}

// RejectReason says why a candidate was not admitted.
type RejectReason string

// Rejection reasons.
const (
	RejectUnknownRecipient RejectReason = "unknown_recipient"
	RejectGuildMismatch    RejectReason = "guild_mismatch"
	RejectUnverified       RejectReason = "unverified"
	RejectChannel          RejectReason = "channel_not_whitelisted"
	RejectPaused           RejectReason = "alerts_paused"
)

// Candidate is a recipient selected by trigger matching.
type Candidate struct {
	Kind        MatchKind
	Trigger     string
	RecipientID string
	Record      domain.Subscription
}

// Rejection is a candidate that failed the admission filter.
type Rejection struct {
	Candidate
	Reason RejectReason
}

// MatchResult is the outcome of routing one event.
type MatchResult struct {
	Admitted []Candidate
	Rejected []Rejection
}

// Matcher decides which recipients receive an event.
type Matcher struct {
	alwaysNotify domain.StringSet
}

// NewMatcher creates a matcher. Messages in alwaysNotifyChannelIDs go to
// every active recipient.
func NewMatcher(alwaysNotifyChannelIDs []string) *Matcher {
	return &Matcher{alwaysNotify: domain.NewStringSet(alwaysNotifyChannelIDs...)}
}

// Match returns the admitted candidates for event.
func (m *Matcher) Match(event domain.MessageEvent, snap *subscriptions.Snapshot) []Candidate {
	return m.Evaluate(event, snap).Admitted
}

// Evaluate runs trigger matching and the admission filter for event against
// snap. A recipient matched by both handle and role yields two candidates.
func (m *Matcher) Evaluate(event domain.MessageEvent, snap *subscriptions.Snapshot) MatchResult {
	var raw []Candidate
	if m.alwaysNotify.Has(event.ChannelID) {
		raw = broadcastCandidates(event, snap)
	} else {
		raw = append(handleCandidates(event, snap), roleCandidates(event, snap)...)
	}

	var result MatchResult
	for _, c := range raw {
		if reason, ok := admit(c, event); !ok {
			result.Rejected = append(result.Rejected, Rejection{Candidate: c, Reason: reason})
			continue
		}
		result.Admitted = append(result.Admitted, c)
	}

	slices.SortFunc(result.Admitted, compareCandidates)
	return result
}

func broadcastCandidates(event domain.MessageEvent, snap *subscriptions.Snapshot) []Candidate {
	var out []Candidate
	for _, id := range snap.ActiveRecipients() {
		rec, _ := snap.Record(id)
		out = append(out, Candidate{Kind: MatchBroadcast, Trigger: event.ChannelName, RecipientID: id, Record: rec})
	}
	return out
}

func handleCandidates(event domain.MessageEvent, snap *subscriptions.Snapshot) []Candidate {
	ix := snap.Index()
	seen := make(map[string]struct{}, len(event.MentionedUsers))

	var out []Candidate
	for _, user := range event.MentionedUsers {
		key := domain.FoldHandle(user)
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		for _, id := range ix.RecipientsForHandle(user) {
			out = append(out, candidate(snap, MatchHandle, user, id))
		}
	}
	return out
}

func roleCandidates(event domain.MessageEvent, snap *subscriptions.Snapshot) []Candidate {
	roles := domain.NewStringSet(event.MentionedRoles...)
	if event.MentionEveryone {
		roles.Add(domain.EveryoneRole)
	}

	ix := snap.Index()
	var out []Candidate
	for _, role := range roles.Sorted() {
		for _, id := range ix.RecipientsForRole(role) {
			out = append(out, candidate(snap, MatchRole, role, id))
		}
	}
	return out
}

func candidate(snap *subscriptions.Snapshot, kind MatchKind, trigger, id string) Candidate {
	rec, ok := snap.Record(id)
	if !ok {
		rec = domain.Subscription{}
	}
	return Candidate{Kind: kind, Trigger: trigger, RecipientID: id, Record: rec}
}

// admit applies the admission filter. Broadcasts skip the verification and
// whitelist checks but are still confined to the recipient's guild.
func admit(c Candidate, event domain.MessageEvent) (RejectReason, bool) {
	if c.Record.RecipientID == "" {
		return RejectUnknownRecipient, false
	}
	if c.Record.GuildID != event.GuildID {
		return RejectGuildMismatch, false
	}
	if !c.Record.IsActive() {
		return RejectPaused, false
	}
	if c.Kind == MatchBroadcast {
		return "", true
	}
	if !c.Record.Verified {
		return RejectUnverified, false
	}
	if !c.Record.AllowsChannel(event.ChannelName) {
		return RejectChannel, false
	}
	return "", true
}

func compareCandidates(a, b Candidate) int {
	return cmp.Or(
		cmp.Compare(a.Kind.rank(), b.Kind.rank()),
		cmp.Compare(a.Trigger, b.Trigger),
		cmp.Compare(a.RecipientID, b.RecipientID),
	)
}
