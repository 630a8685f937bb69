package dialogue

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
)

// Registry is the shared subscription resource as seen by the dialogue.
type Registry interface {
	Snapshot() *subscriptions.Snapshot
	Get(recipientID string) (domain.Subscription, bool)
	Ensure(recipientID string) domain.Subscription
	ApplyAndRefresh(ctx context.Context, recipientID string, mutation func(*domain.Subscription) error) (domain.Subscription, error)
	DeleteAndRefresh(ctx context.Context, recipientID string) error
}

// LinkIssuer creates handle verification links.
type LinkIssuer interface {
	IssueLink(sub domain.Subscription) (string, error)
}

// Reply is what the bot answers to one message.
type Reply struct {
	Text           string
	Keyboard       [][]string
	RemoveKeyboard bool
}

// Config contains dialogue configuration.
type Config struct {
	// RoleExemptPrefixes lists role name prefixes never seeded from a member's
	// roles when their handle is set.
	RoleExemptPrefixes []string
}

type session struct {
	state  State
	field  Field
	action Action
}

type turn struct {
	recipientID string
	text        string
	session     *session
}

type transitionFunc func(ctx context.Context, t *turn) (Reply, State)

// Machine runs one conversation per recipient. Handle may be called
// concurrently for different recipients; calls for one recipient must be
// sequential.
type Machine struct {
	config      Config
	registry    Registry
	directory   directory.Directory
	verifier    LinkIssuer
	transitions map[State]map[Input]transitionFunc

	mu       sync.Mutex
	sessions map[string]session
}

// NewMachine creates a state machine. verifier may be nil, which hides the
// verification menu item.
func NewMachine(config Config, registry Registry, dir directory.Directory, verifier LinkIssuer) *Machine {
	m := &Machine{
		config:    config,
		registry:  registry,
		directory: dir,
		verifier:  verifier,
		sessions:  make(map[string]session),
	}
	m.transitions = m.transitionTable()
	return m
}

func (m *Machine) transitionTable() map[State]map[Input]transitionFunc {
	menu := map[Input]transitionFunc{
		InputEntry:    m.enter,
		InputHandle:   m.askHandle,
		InputGuild:    m.askGuild,
		InputRoles:    m.chooseSet(FieldRoles),
		InputChannels: m.chooseSet(FieldChannels),
		InputDelete:   m.deleteData,
		InputPause:    m.setAlerts(false),
		InputResume:   m.setAlerts(true),
		InputVerify:   m.verify,
		InputDone:     m.done,
	}

	return map[State]map[Input]transitionFunc{
		StateUnknown: {
			InputEntry: m.enter,
		},
		StateChoosing: menu,
		StateTypingReply: {
			InputEntry: m.enter,
			InputText:  m.receive,
			InputBack:  m.enter,
			InputDone:  m.done,
		},
		StateChoosingSetAction: {
			InputEntry:  m.enter,
			InputAdd:    m.askAdd,
			InputRemove: m.askRemove,
			InputBack:   m.enter,
			InputDone:   m.done,
		},
		StateRemoveMore: {
			InputEntry:         m.enter,
			InputRemoveAnother: m.askRemove,
			InputBack:          m.enter,
			InputDone:          m.done,
		},
	}
}

// State returns the conversation state of recipientID.
func (m *Machine) State(recipientID string) State {
	return m.session(recipientID).state
}

// Handle processes one message from recipientID and returns the answer.
func (m *Machine) Handle(ctx context.Context, recipientID, text string) Reply {
	text = strings.TrimSpace(text)
	sess := m.session(recipientID)
	input := classify(sess.state, text)

	if input == InputShowData {
		recordTurn(sess.state, input, sess.state)
		return m.showData(recipientID)
	}

	fn, ok := m.transitions[sess.state][input]
	if !ok {
		fn = m.reprompt
	}

	from := sess.state
	reply, next := fn(ctx, &turn{recipientID: recipientID, text: text, session: &sess})
	sess.state = next
	if next == StateUnknown || next == StateChoosing {
		sess.field = ""
		sess.action = ""
	}
	m.setSession(recipientID, sess)

	recordTurn(from, input, next)
	slog.Debug("dialogue transition",
		"recipient_id", recipientID,
		"from", from,
		"input", input,
		"to", next,
	)
	return reply
}

func (m *Machine) session(recipientID string) session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[recipientID]
	if !ok {
		return session{state: StateUnknown}
	}
	return sess
}

func (m *Machine) setSession(recipientID string, sess session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.state == StateUnknown {
		delete(m.sessions, recipientID)
		return
	}
	m.sessions[recipientID] = sess
}

func (m *Machine) triggersFor(recipientID string) subscriptions.Triggers {
	return m.registry.Snapshot().Index().ActiveTriggersFor(recipientID)
}

func (m *Machine) menuKeyboard(rec domain.Subscription) [][]string {
	toggle := ButtonPause
	if !rec.IsActive() {
		toggle = ButtonResume
	}
	extra := []string{toggle}
	if m.verifier != nil && rec.Handle != "" && !rec.Verified {
		extra = append(extra, ButtonVerify)
	}
	return [][]string{
		{ButtonHandle, ButtonChannels},
		{ButtonRoles, ButtonGuild},
		extra,
		{ButtonDelete, ButtonDone},
	}
}

func (m *Machine) menuReply(recipientID, text string) Reply {
	rec, _ := m.registry.Get(recipientID)
	return Reply{Text: text, Keyboard: m.menuKeyboard(rec)}
}
