package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bissquit/mention-relay/internal/domain"
)

func (m *Machine) validateGuild(ctx context.Context, input string) (*domain.Guild, error) {
	id, err := strconv.ParseUint(input, 10, 64)
	if err != nil || id == 0 {
		return nil, &ValidationError{
			Field:   FieldGuild,
			Input:   input,
			Message: fmt.Sprintf("%q is not a server id. Server ids are positive numbers, e.g. 1031616432049496225.", input),
		}
	}

	guild, err := m.directory.ResolveGuild(ctx, id)
	if err != nil {
		return nil, lookupFailure(FieldGuild, input, err)
	}
	return guild, nil
}

func (m *Machine) validateHandle(ctx context.Context, guildID uint64, input string) (*domain.Member, error) {
	handle := strings.TrimPrefix(input, "@")
	if handle == "" {
		return nil, &ValidationError{Field: FieldHandle, Input: input, Message: "Please enter a Discord username."}
	}

	member, err := m.directory.ResolveMember(ctx, guildID, handle)
	if err != nil {
		return nil, lookupFailure(FieldHandle, handle, err)
	}
	return member, nil
}

func (m *Machine) validateAdd(ctx context.Context, field Field, guildID uint64, input string) (string, error) {
	value := input
	if field == FieldChannels {
		value = strings.TrimPrefix(value, "#")
	}

	options, err := m.guildOptions(ctx, field, guildID)
	if err != nil {
		return "", lookupFailure(FieldGuild, formatGuild(guildID), err)
	}
	if canonical, ok := lookup(options, value); ok {
		return canonical, nil
	}
	return "", &ValidationError{
		Field:   field,
		Input:   value,
		Message: fmt.Sprintf("%q is not a %s of your Discord server.", value, singular(field)),
		Options: options,
	}
}

func validateRemove(field Field, current domain.StringSet, input string) (string, error) {
	options := current.Sorted()
	if canonical, ok := lookup(options, input); ok {
		return canonical, nil
	}
	return "", &ValidationError{
		Field:   field,
		Input:   input,
		Message: fmt.Sprintf("%q is not one of your %s.", input, fieldLabel(field)),
		Options: options,
	}
}

func (m *Machine) guildOptions(ctx context.Context, field Field, guildID uint64) ([]string, error) {
	if field == FieldRoles {
		return m.directory.GuildRoles(ctx, guildID)
	}
	return m.directory.GuildChannels(ctx, guildID)
}

// seedRoles drops roles whose name starts with an exempt prefix.
func (m *Machine) seedRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !m.exempt(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Machine) exempt(role string) bool {
	for _, prefix := range m.config.RoleExemptPrefixes {
		if prefix != "" && strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// lookup finds value in options, preferring an exact match over a
// case-insensitive one.
func lookup(options []string, value string) (string, bool) {
	for _, o := range options {
		if o == value {
			return o, true
		}
	}
	for _, o := range options {
		if strings.EqualFold(o, value) {
			return o, true
		}
	}
	return "", false
}

// lookupFailure turns a directory error into a user-facing validation error.
func lookupFailure(field Field, input string, err error) *ValidationError {
	if errors.Is(err, directory.ErrNotFound) {
		msg := fmt.Sprintf("%q could not be found on Discord.", input)
		switch field {
		case FieldHandle:
			msg = fmt.Sprintf("%q is not a member of your Discord server.", input)
		case FieldGuild:
			msg = fmt.Sprintf("No Discord server with id %s is visible to the bot.", input)
		}
		return &ValidationError{Field: field, Input: input, Message: msg}
	}

	slog.Warn("directory lookup failed", "field", field, "input", input, "error", err)
	return &ValidationError{
		Field:   field,
		Input:   input,
		Message: "Discord can't be reached right now. Please try again in a moment.",
	}
}

func asValidationError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Message: "That didn't work. Please try again."}
}
