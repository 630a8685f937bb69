package dialogue

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/bissquit/mention-relay/internal/domain"
)

const propagationNote = "Changes reach your notifications within a few seconds."

const introText = "To receive a notification whenever your Discord handle is mentioned, " +
	"please select 'Discord handle' from the menu below. " +
	"To restrict notifications to certain channels only, select 'Discord channels'. " +
	"To receive notifications for mentions of specific roles, select 'Discord roles'."

var (
	setActionKeyboard  = [][]string{{ButtonAdd, ButtonRemove}, {ButtonBack}}
	removeMoreKeyboard = [][]string{{ButtonRemoveAnother, ButtonBack}}
)

func fieldLabel(f Field) string {
	switch f {
	case FieldHandle:
		return "handle"
	case FieldGuild:
		return "guild"
	case FieldRoles:
		return "roles"
	default:
		return "channels"
	}
}

func singular(f Field) string {
	if f == FieldRoles {
		return "role"
	}
	return "channel"
}

func (m *Machine) enter(_ context.Context, t *turn) (Reply, State) {
	rec := m.registry.Ensure(t.recipientID)

	text := "Hello!\n"
	if hasData(rec) {
		text += "Your data so far:\n" + summaryTable(rec, m.triggersFor(t.recipientID)) + "\nPlease choose:"
	} else {
		text += introText
	}
	return Reply{Text: text, Keyboard: m.menuKeyboard(rec)}, StateChoosing
}

func (m *Machine) reprompt(_ context.Context, t *turn) (Reply, State) {
	switch t.session.state {
	case StateChoosing:
		return m.menuReply(t.recipientID, "Please choose an option from the menu."), StateChoosing
	case StateChoosingSetAction:
		return Reply{Text: "Please pick one of the buttons below.", Keyboard: setActionKeyboard}, StateChoosingSetAction
	case StateRemoveMore:
		return Reply{Text: "Please pick one of the buttons below.", Keyboard: removeMoreKeyboard}, StateRemoveMore
	case StateTypingReply:
		return Reply{Text: "Please type your answer, or send /back to return to the menu."}, StateTypingReply
	default:
		return Reply{Text: "Send /start to set up your Discord notifications."}, StateUnknown
	}
}

func (m *Machine) askHandle(_ context.Context, t *turn) (Reply, State) {
	t.session.field = FieldHandle
	rec, _ := m.registry.Get(t.recipientID)

	text := "Please enter your Discord username (e.g. mia_427). " +
		"You can find it by tapping your avatar or in Settings > My Account > Username."
	if rec.Handle != "" {
		text += fmt.Sprintf("\nCurrently: <b>%s</b>. Send /back to keep it.", html.EscapeString(rec.Handle))
	}
	return Reply{Text: text, RemoveKeyboard: true}, StateTypingReply
}

func (m *Machine) askGuild(_ context.Context, t *turn) (Reply, State) {
	t.session.field = FieldGuild
	rec, _ := m.registry.Get(t.recipientID)

	text := "Please enter the id of your Discord server."
	if rec.GuildID != 0 {
		text += fmt.Sprintf(" Currently: <code>%d</code>.", rec.GuildID)
	}
	text += " Changing it clears your roles and channels."
	return Reply{Text: text, RemoveKeyboard: true}, StateTypingReply
}

func (m *Machine) chooseSet(field Field) transitionFunc {
	return func(_ context.Context, t *turn) (Reply, State) {
		t.session.field = field
		rec, _ := m.registry.Get(t.recipientID)

		current := "none"
		if values := setOf(&rec, field); values.Len() > 0 {
			current = strings.Join(values.Sorted(), ", ")
		}
		text := fmt.Sprintf("Your Discord %s: %s\nDo you want to add or remove one?",
			fieldLabel(field), html.EscapeString(current))
		return Reply{Text: text, Keyboard: setActionKeyboard}, StateChoosingSetAction
	}
}

func (m *Machine) askAdd(ctx context.Context, t *turn) (Reply, State) {
	field := t.session.field
	rec := m.registry.Ensure(t.recipientID)

	options, err := m.guildOptions(ctx, field, rec.GuildID)
	if err != nil {
		return Reply{Text: lookupFailure(FieldGuild, formatGuild(rec.GuildID), err).UserMessage(), Keyboard: setActionKeyboard}, StateChoosingSetAction
	}

	t.session.action = ActionAdd
	text := fmt.Sprintf("Which %s should trigger notifications?", singular(field))
	if field == FieldChannels {
		text = "Which channel should notifications be limited to? An empty channel list means all channels."
	}
	if len(options) > 0 {
		text += "\nAvailable: " + html.EscapeString(strings.Join(options, ", "))
	}
	return Reply{Text: text, RemoveKeyboard: true}, StateTypingReply
}

func (m *Machine) askRemove(_ context.Context, t *turn) (Reply, State) {
	field := t.session.field
	rec, _ := m.registry.Get(t.recipientID)

	values := setOf(&rec, field).Sorted()
	if len(values) == 0 {
		return m.menuReply(t.recipientID, fmt.Sprintf("You have no %s to remove.", fieldLabel(field))), StateChoosing
	}

	t.session.action = ActionRemove
	keyboard := make([][]string, 0, len(values)+1)
	for _, v := range values {
		keyboard = append(keyboard, []string{v})
	}
	keyboard = append(keyboard, []string{ButtonBack})
	return Reply{Text: fmt.Sprintf("Which %s do you want to remove?", singular(field)), Keyboard: keyboard}, StateTypingReply
}

func (m *Machine) receive(ctx context.Context, t *turn) (Reply, State) {
	switch t.session.field {
	case FieldHandle:
		return m.receiveHandle(ctx, t)
	case FieldGuild:
		return m.receiveGuild(ctx, t)
	case FieldRoles, FieldChannels:
		if t.session.action == ActionRemove {
			return m.receiveRemove(ctx, t)
		}
		return m.receiveAdd(ctx, t)
	default:
		return m.enter(ctx, t)
	}
}

func (m *Machine) receiveGuild(ctx context.Context, t *turn) (Reply, State) {
	guild, err := m.validateGuild(ctx, t.text)
	if err != nil {
		return m.rejected(err), StateTypingReply
	}

	updated, err := m.registry.ApplyAndRefresh(ctx, t.recipientID, func(s *domain.Subscription) error {
		if s.GuildID != guild.ID {
			s.GuildID = guild.ID
			s.Roles = domain.NewStringSet()
			s.Channels = domain.NewStringSet()
		}
		return nil
	})
	if err != nil {
		return m.saveFailed(t, FieldGuild, err), StateChoosing
	}

	recordMutation(FieldGuild, "success")
	return m.success(t.recipientID, updated, fmt.Sprintf("Guild set to <b>%s</b>.", html.EscapeString(guild.Name))), StateChoosing
}

func (m *Machine) receiveHandle(ctx context.Context, t *turn) (Reply, State) {
	rec := m.registry.Ensure(t.recipientID)

	member, err := m.validateHandle(ctx, rec.GuildID, t.text)
	if err != nil {
		return m.rejected(err), StateTypingReply
	}
	roles := m.seedRoles(member.Roles)

	updated, err := m.registry.ApplyAndRefresh(ctx, t.recipientID, func(s *domain.Subscription) error {
		s.Handle = member.Username
		s.SourceUserID = member.ID
		s.Roles = domain.NewStringSet(roles...)
		s.Verified = false
		return nil
	})
	if err != nil {
		return m.saveFailed(t, FieldHandle, err), StateChoosing
	}

	recordMutation(FieldHandle, "success")
	return m.success(t.recipientID, updated, fmt.Sprintf("Handle set to <b>%s</b>.", html.EscapeString(member.Username))), StateChoosing
}

func (m *Machine) receiveAdd(ctx context.Context, t *turn) (Reply, State) {
	field := t.session.field
	rec := m.registry.Ensure(t.recipientID)

	value, err := m.validateAdd(ctx, field, rec.GuildID, t.text)
	if err != nil {
		return m.rejected(err), StateTypingReply
	}

	updated, err := m.registry.ApplyAndRefresh(ctx, t.recipientID, func(s *domain.Subscription) error {
		setOf(s, field).Add(value)
		return nil
	})
	if err != nil {
		return m.saveFailed(t, field, err), StateChoosing
	}

	recordMutation(field, "success")
	return m.success(t.recipientID, updated, fmt.Sprintf("Added <b>%s</b> to your %s.", html.EscapeString(value), fieldLabel(field))), StateChoosing
}

func (m *Machine) receiveRemove(ctx context.Context, t *turn) (Reply, State) {
	field := t.session.field
	rec, _ := m.registry.Get(t.recipientID)

	value, err := validateRemove(field, setOf(&rec, field), t.text)
	if err != nil {
		return m.rejected(err), StateTypingReply
	}

	updated, err := m.registry.ApplyAndRefresh(ctx, t.recipientID, func(s *domain.Subscription) error {
		setOf(s, field).Remove(value)
		return nil
	})
	if err != nil {
		return m.saveFailed(t, field, err), StateChoosing
	}

	recordMutation(field, "success")
	text := fmt.Sprintf("Removed <b>%s</b> from your %s. Your data now:\n%s\n%s",
		html.EscapeString(value), fieldLabel(field),
		summaryTable(updated, m.triggersFor(t.recipientID)), propagationNote)
	return Reply{Text: text, Keyboard: removeMoreKeyboard}, StateRemoveMore
}

func (m *Machine) deleteData(ctx context.Context, t *turn) (Reply, State) {
	rec, ok := m.registry.Get(t.recipientID)
	if ok {
		if err := m.registry.DeleteAndRefresh(ctx, t.recipientID); err != nil {
			slog.Error("failed to delete subscription", "recipient_id", t.recipientID, "error", err)
			return m.menuReply(t.recipientID, "Sorry, your data could not be deleted right now. Please try again in a moment."), StateChoosing
		}
	}
	if !ok || !hasData(rec) {
		return Reply{Text: "There's nothing here to be deleted yet! Back to /menu", RemoveKeyboard: true}, StateUnknown
	}

	slog.Info("subscription deleted", "recipient_id", t.recipientID)
	return Reply{Text: "Data successfully wiped!", RemoveKeyboard: true}, StateUnknown
}

func (m *Machine) setAlerts(active bool) transitionFunc {
	return func(ctx context.Context, t *turn) (Reply, State) {
		updated, err := m.registry.ApplyAndRefresh(ctx, t.recipientID, func(s *domain.Subscription) error {
			s.SetActive(active)
			return nil
		})
		if err != nil {
			return m.saveFailed(t, "alerts", err), StateChoosing
		}

		lead := "Alerts paused."
		if active {
			lead = "Alerts resumed."
		}
		recordMutation("alerts", "success")
		return m.success(t.recipientID, updated, lead), StateChoosing
	}
}

func (m *Machine) verify(_ context.Context, t *turn) (Reply, State) {
	if m.verifier == nil {
		return m.menuReply(t.recipientID, "Please choose an option from the menu."), StateChoosing
	}

	rec, _ := m.registry.Get(t.recipientID)
	switch {
	case rec.Handle == "" || rec.SourceUserID == "":
		return m.menuReply(t.recipientID, "Please set your Discord handle first."), StateChoosing
	case rec.Verified:
		return m.menuReply(t.recipientID, "Your handle is already verified."), StateChoosing
	}

	link, err := m.verifier.IssueLink(rec)
	if err != nil {
		slog.Error("failed to issue verification link", "recipient_id", t.recipientID, "error", err)
		return m.menuReply(t.recipientID, "Sorry, a verification link could not be created right now."), StateChoosing
	}

	text := fmt.Sprintf("Open this link to confirm that <b>%s</b> is your Discord account:\n<a href=\"%s\">Verify handle</a>",
		html.EscapeString(rec.Handle), html.EscapeString(link))
	return m.menuReply(t.recipientID, text), StateChoosing
}

func (m *Machine) done(_ context.Context, t *turn) (Reply, State) {
	rec, _ := m.registry.Get(t.recipientID)
	text := "Your data so far:\n" + summaryTable(rec, m.triggersFor(t.recipientID)) + "\nHit /menu to edit."
	return Reply{Text: text, RemoveKeyboard: true}, StateUnknown
}

func (m *Machine) showData(recipientID string) Reply {
	rec, ok := m.registry.Get(recipientID)
	if !ok {
		return Reply{Text: "I don't know anything about you yet. Hit /start to begin."}
	}
	return Reply{Text: "This is what you already told me:\n" + summaryTable(rec, m.triggersFor(recipientID))}
}

func (m *Machine) success(recipientID string, rec domain.Subscription, lead string) Reply {
	text := lead + "\nSuccess! Your data now:\n" + summaryTable(rec, m.triggersFor(recipientID)) +
		"\n" + propagationNote + " Hit /menu to edit."
	return Reply{Text: text, Keyboard: m.menuKeyboard(rec)}
}

func (m *Machine) rejected(err error) Reply {
	return Reply{Text: asValidationError(err).UserMessage() + "\nTry again or send /back."}
}

func (m *Machine) saveFailed(t *turn, field Field, err error) Reply {
	recordMutation(field, "failed")
	slog.Error("failed to update subscription",
		"recipient_id", t.recipientID,
		"field", field,
		"error", err,
	)
	return m.menuReply(t.recipientID, "Sorry, your change could not be stored right now. Please try again in a moment.")
}

func setOf(rec *domain.Subscription, field Field) domain.StringSet {
	if rec.Roles == nil {
		rec.Roles = domain.NewStringSet()
	}
	if rec.Channels == nil {
		rec.Channels = domain.NewStringSet()
	}
	if field == FieldRoles {
		return rec.Roles
	}
	return rec.Channels
}
