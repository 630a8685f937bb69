package dialogue

import (
	"errors"
	"testing"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		state State
		text  string
		want  Input
	}{
		{"start", StateUnknown, "/start", InputEntry},
		{"menu with bot suffix", StateChoosing, "/menu@relay_bot", InputEntry},
		{"back command", StateTypingReply, "/back", InputEntry},
		{"show data", StateTypingReply, "/show_data", InputShowData},
		{"unknown command", StateChoosing, "/help", InputText},
		{"menu item", StateChoosing, "Discord roles", InputRoles},
		{"free text", StateChoosing, "hello", InputText},
		{"button while typing is text", StateTypingReply, "Add", InputText},
		{"back while typing", StateTypingReply, "Back", InputBack},
		{"done while typing", StateTypingReply, "Done", InputDone},
		{"remove another", StateRemoveMore, "Remove another", InputRemoveAnother},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.state, tt.text))
		})
	}
}

func TestMachine_UnknownStateRequiresEntry(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("Discord handle")
	assert.Contains(t, reply.Text, "/start")
	assert.Equal(t, StateUnknown, h.state())
}

func TestMachine_EntryCreatesPlaceholder(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("/start")
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "Hello!")
	assert.Contains(t, reply.Text, "Discord handle")
	require.NotEmpty(t, reply.Keyboard)
	assert.Equal(t, []string{ButtonHandle, ButtonChannels}, reply.Keyboard[0])
	assert.Contains(t, flatten(reply.Keyboard), ButtonPause)

	rec := h.record(t)
	assert.Equal(t, uint64(42), rec.GuildID)
	assert.Empty(t, rec.Handle)
}

func TestMachine_EntryShowsSummaryAndTriggers(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/menu")
	assert.Contains(t, reply.Text, "Your data so far")
	assert.Contains(t, reply.Text, "<pre>")
	assert.Contains(t, reply.Text, "Listening to")
	assert.Contains(t, reply.Text, "bob, core")
}

func TestMachine_SetHandle(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("/start", ButtonHandle)
	assert.Equal(t, StateTypingReply, h.state())
	assert.Contains(t, reply.Text, "Discord username")

	reply = h.say("BOB")
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "Success!")
	assert.Contains(t, reply.Text, propagationNote)

	rec := h.record(t)
	assert.Equal(t, "bob", rec.Handle, "canonical username is stored")
	assert.Equal(t, "900", rec.SourceUserID)
	assert.Equal(t, []string{"core"}, rec.Roles.Sorted(), "exempt roles are not seeded")
	assert.False(t, rec.Verified)

	assert.Equal(t, []string{recipient}, h.registry.Snapshot().Index().RecipientsForHandle("bob"))
}

func TestMachine_SetHandle_ResetsVerification(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob(func(s *domain.Subscription) {
		s.Roles.Add("dev")
	})})

	h.say("/start", ButtonHandle, "alice")

	rec := h.record(t)
	assert.Equal(t, "alice", rec.Handle)
	assert.Equal(t, "901", rec.SourceUserID)
	assert.False(t, rec.Verified)
	assert.Equal(t, []string{"dev"}, rec.Roles.Sorted(), "roles are overwritten by the member's roles")
}

func TestMachine_SetHandle_UnknownMember(t *testing.T) {
	h := newHarness(t, nil)
	saves := h.store.Saves()

	reply := h.say("/start", ButtonHandle, "mallory")
	assert.Equal(t, StateTypingReply, h.state(), "re-prompts in place")
	assert.Contains(t, reply.Text, "not a member")
	assert.Empty(t, h.record(t).Handle)
	assert.Equal(t, saves, h.store.Saves())
}

func TestMachine_SetHandle_DirectoryUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.dir.SetUnavailable(errDirectoryDown)

	reply := h.say("/start", ButtonHandle, "bob")
	assert.Equal(t, StateTypingReply, h.state())
	assert.Contains(t, reply.Text, "can&#39;t be reached")
	assert.Empty(t, h.record(t).Handle)

	h.dir.SetUnavailable(nil)
	h.say("bob")
	assert.Equal(t, "bob", h.record(t).Handle)
}

func TestMachine_ChangeGuild_ClearsRolesAndChannels(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob(func(s *domain.Subscription) {
		s.Channels.Add("general")
	})})

	reply := h.say("/start", ButtonGuild)
	assert.Contains(t, reply.Text, "42")

	reply = h.say("43")
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "Ops Guild")

	rec := h.record(t)
	assert.Equal(t, uint64(43), rec.GuildID)
	assert.Equal(t, "bob", rec.Handle, "handle is preserved")
	assert.Equal(t, 0, rec.Roles.Len())
	assert.Equal(t, 0, rec.Channels.Len())

	snapRec, ok := h.registry.Snapshot().Record(recipient)
	require.True(t, ok)
	assert.Equal(t, 0, snapRec.Roles.Len())
	assert.Empty(t, h.registry.Snapshot().Index().RecipientsForRole("core"))
}

func TestMachine_SameGuild_KeepsRoles(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	h.say("/start", ButtonGuild, "42")
	assert.Equal(t, []string{"core"}, h.record(t).Roles.Sorted())
}

func TestMachine_ChangeGuild_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not a number", "abc", "not a server id"},
		{"zero", "0", "not a server id"},
		{"negative", "-5", "not a server id"},
		{"unknown guild", "99", "No Discord server with id 99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []domain.Subscription{bob()})

			reply := h.say("/start", ButtonGuild, tt.input)
			assert.Equal(t, StateTypingReply, h.state())
			assert.Contains(t, reply.Text, tt.want)
			assert.Equal(t, uint64(42), h.record(t).GuildID)
		})
	}
}

func TestMachine_AddRole(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonRoles)
	assert.Equal(t, StateChoosingSetAction, h.state())
	assert.Contains(t, reply.Text, "core")
	assert.Equal(t, setActionKeyboard, reply.Keyboard)

	reply = h.say(ButtonAdd)
	assert.Equal(t, StateTypingReply, h.state())
	assert.Contains(t, reply.Text, "Moderators")

	reply = h.say("moderators")
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "Added <b>Moderators</b>")
	assert.Equal(t, []string{"Moderators", "core"}, h.record(t).Roles.Sorted())
	assert.Equal(t, []string{recipient}, h.registry.Snapshot().Index().RecipientsForRole("Moderators"))
}

func TestMachine_AddRole_NotInGuild(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonRoles, ButtonAdd, "ops")
	assert.Equal(t, StateTypingReply, h.state())
	assert.Contains(t, reply.Text, "not a role of your Discord server")
	assert.Contains(t, reply.Text, "Valid options: core, dev, bot-admin, Moderators")
	assert.False(t, h.record(t).Roles.Has("ops"))
}

func TestMachine_AddChannel_StripsHash(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	h.say("/start", ButtonChannels, ButtonAdd, "#general")
	assert.Equal(t, []string{"general"}, h.record(t).Channels.Sorted())
}

func TestMachine_AddOptionsUnavailable(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})
	h.say("/start", ButtonChannels)
	h.dir.SetUnavailable(errDirectoryDown)

	reply := h.say(ButtonAdd)
	assert.Equal(t, StateChoosingSetAction, h.state())
	assert.Contains(t, reply.Text, "can&#39;t be reached")
}

func TestMachine_RemoveRoles(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob(func(s *domain.Subscription) {
		s.Roles.Add("dev")
	})})

	reply := h.say("/start", ButtonRoles, ButtonRemove)
	assert.Equal(t, StateTypingReply, h.state())
	assert.Equal(t, []string{"core", "dev", ButtonBack}, flatten(reply.Keyboard))

	reply = h.say("core")
	assert.Equal(t, StateRemoveMore, h.state())
	assert.Equal(t, removeMoreKeyboard, reply.Keyboard)
	assert.Equal(t, []string{"dev"}, h.record(t).Roles.Sorted())

	h.say(ButtonRemoveAnother, "dev")
	assert.Equal(t, StateRemoveMore, h.state())
	assert.Equal(t, 0, h.record(t).Roles.Len())

	reply = h.say(ButtonRemoveAnother)
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "no roles to remove")
}

func TestMachine_RemoveRole_NotOwned(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonRoles, ButtonRemove, "dev")
	assert.Equal(t, StateTypingReply, h.state())
	assert.Contains(t, reply.Text, "not one of your roles")
	assert.Contains(t, reply.Text, "Valid options: core")
	assert.True(t, h.record(t).Roles.Has("core"))
}

func TestMachine_RemoveMore_Back(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	h.say("/start", ButtonRoles, ButtonRemove, "core", ButtonBack)
	assert.Equal(t, StateChoosing, h.state())
}

func TestMachine_BackFromTyping(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonHandle, ButtonBack)
	assert.Equal(t, StateChoosing, h.state())
	assert.NotEmpty(t, reply.Keyboard)
	assert.Equal(t, "bob", h.record(t).Handle)
}

func TestMachine_ChoosingRepromptsOnText(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("/start", "what now?")
	assert.Equal(t, StateChoosing, h.state())
	assert.Contains(t, reply.Text, "choose an option")
}

func TestMachine_Done(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonRoles, ButtonDone)
	assert.Equal(t, StateUnknown, h.state())
	assert.True(t, reply.RemoveKeyboard)
	assert.Contains(t, reply.Text, "Hit /menu to edit.")
	assert.Equal(t, "bob", h.record(t).Handle, "done keeps data")
}

func TestMachine_DeleteData(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonDelete)
	assert.Equal(t, "Data successfully wiped!", reply.Text)
	assert.Equal(t, StateUnknown, h.state())

	_, ok := h.registry.Get(recipient)
	assert.False(t, ok)
	assert.Empty(t, h.registry.Snapshot().Index().RecipientsForHandle("bob"))
}

func TestMachine_DeleteData_NothingStored(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("/start", ButtonDelete)
	assert.Contains(t, reply.Text, "nothing here to be deleted")
	assert.Equal(t, StateUnknown, h.state())
}

func TestMachine_PauseAndResume(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	reply := h.say("/start", ButtonPause)
	assert.False(t, h.record(t).IsActive())
	assert.Contains(t, flatten(reply.Keyboard), ButtonResume)
	assert.Empty(t, h.registry.Snapshot().ActiveRecipients())

	reply = h.say(ButtonResume)
	assert.True(t, h.record(t).IsActive())
	assert.Contains(t, flatten(reply.Keyboard), ButtonPause)
	assert.Equal(t, []string{recipient}, h.registry.Snapshot().ActiveRecipients())
}

func TestMachine_Verify(t *testing.T) {
	unverified := bob(func(s *domain.Subscription) { s.Verified = false })

	t.Run("menu hides verify without verifier", func(t *testing.T) {
		h := newHarness(t, []domain.Subscription{unverified})
		reply := h.say("/start")
		assert.NotContains(t, flatten(reply.Keyboard), ButtonVerify)
	})

	t.Run("issues link", func(t *testing.T) {
		h := newHarness(t, []domain.Subscription{unverified}, withVerifier(fakeIssuer{}))

		reply := h.say("/start")
		assert.Contains(t, flatten(reply.Keyboard), ButtonVerify)

		reply = h.say(ButtonVerify)
		assert.Equal(t, StateChoosing, h.state())
		assert.Contains(t, reply.Text, `href="https://verify.example/start?state=tok-7"`)
	})

	t.Run("already verified", func(t *testing.T) {
		h := newHarness(t, []domain.Subscription{bob()}, withVerifier(fakeIssuer{}))
		reply := h.say("/start", ButtonVerify)
		assert.Contains(t, reply.Text, "already verified")
	})

	t.Run("issuer failure", func(t *testing.T) {
		h := newHarness(t, []domain.Subscription{unverified}, withVerifier(fakeIssuer{err: errors.New("no key")}))
		reply := h.say("/start", ButtonVerify)
		assert.Contains(t, reply.Text, "could not be created")
	})
}

func TestMachine_ShowDataKeepsState(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})

	h.say("/start", ButtonHandle)
	reply := h.say("/show_data")
	assert.Contains(t, reply.Text, "This is what you already told me")
	assert.Equal(t, StateTypingReply, h.state())
}

func TestMachine_ShowData_Unknown(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.say("/show_data")
	assert.Contains(t, reply.Text, "/start")
}

func TestMachine_SaveFailure(t *testing.T) {
	h := newHarness(t, []domain.Subscription{bob()})
	h.store.saveErr = errors.New("disk full")

	reply := h.say("/start", ButtonRoles, ButtonAdd, "dev")
	assert.Contains(t, reply.Text, "could not be stored")
	assert.Equal(t, StateChoosing, h.state())
	assert.Empty(t, h.registry.Snapshot().Index().RecipientsForRole("dev"), "index is not rebuilt without a successful save")
}

func TestMachine_SessionsAreIndependent(t *testing.T) {
	h := newHarness(t, nil)

	h.say("/start", ButtonHandle)
	assert.Equal(t, StateUnknown, h.machine.State("8"))
	assert.Equal(t, StateTypingReply, h.state())
}
