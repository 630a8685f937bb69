// Package dialogue implements the Telegram conversation through which a
// recipient edits their subscription.
package dialogue

import "strings"

// State is the position of one recipient in the conversation.
type State string

const (
	StateUnknown           State = "unknown"
	StateChoosing          State = "choosing"
	StateTypingReply       State = "typing_reply"
	StateChoosingSetAction State = "choosing_set_action"
	StateRemoveMore        State = "remove_more"
)

// Input is the category of an incoming message.
type Input string

const (
	InputEntry         Input = "entry"
	InputShowData      Input = "show_data"
	InputHandle        Input = "handle"
	InputRoles         Input = "roles"
	InputChannels      Input = "channels"
	InputGuild         Input = "guild"
	InputDelete        Input = "delete"
	InputPause         Input = "pause"
	InputResume        Input = "resume"
	InputVerify        Input = "verify"
	InputDone          Input = "done"
	InputAdd           Input = "add"
	InputRemove        Input = "remove"
	InputRemoveAnother Input = "remove_another"
	InputBack          Input = "back"
	InputText          Input = "text"
)

// Field is the subscription field being edited.
type Field string

const (
	FieldHandle   Field = "handle"
	FieldGuild    Field = "guild"
	FieldRoles    Field = "roles"
	FieldChannels Field = "channels"
)

// Action is the pending edit on a set-valued field.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Button labels.
const (
	ButtonHandle        = "Discord handle"
	ButtonChannels      = "Discord channels"
	ButtonRoles         = "Discord roles"
	ButtonGuild         = "Discord guild"
	ButtonDelete        = "Delete my data"
	ButtonPause         = "Pause alerts"
	ButtonResume        = "Resume alerts"
	ButtonVerify        = "Verify handle"
	ButtonDone          = "Done"
	ButtonAdd           = "Add"
	ButtonRemove        = "Remove"
	ButtonRemoveAnother = "Remove another"
	ButtonBack          = "Back"
)

var buttonInputs = map[string]Input{
	ButtonHandle:        InputHandle,
	ButtonChannels:      InputChannels,
	ButtonRoles:         InputRoles,
	ButtonGuild:         InputGuild,
	ButtonDelete:        InputDelete,
	ButtonPause:         InputPause,
	ButtonResume:        InputResume,
	ButtonVerify:        InputVerify,
	ButtonDone:          InputDone,
	ButtonAdd:           InputAdd,
	ButtonRemove:        InputRemove,
	ButtonRemoveAnother: InputRemoveAnother,
	ButtonBack:          InputBack,
}

// classify maps text to an input. While a free-text reply is expected only
// commands, Back and Done keep their meaning.
func classify(state State, text string) Input {
	if strings.HasPrefix(text, "/") {
		switch command(text) {
		case "start", "menu", "back":
			return InputEntry
		case "show_data":
			return InputShowData
		}
		return InputText
	}

	input, ok := buttonInputs[text]
	if !ok {
		return InputText
	}
	if state == StateTypingReply && input != InputBack && input != InputDone {
		return InputText
	}
	return input
}

// command returns the command name without slash, arguments or bot suffix.
func command(text string) string {
	name, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}
