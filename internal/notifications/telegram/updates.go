package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/codeGROOVE-dev/retry"
)

// Update is an incoming Bot API update. Only messages are requested.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// ChatID returns the chat id in the decimal form used as recipient id.
func (m *Message) ChatID() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.config.PollTimeout / time.Second),
		AllowedUpdates: []string{"message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates, false); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// UpdateHandler processes one update.
type UpdateHandler func(ctx context.Context, update Update)

// Poller long-polls the Bot API and hands updates to a handler. Updates of one
// chat are handled in order; different chats are handled concurrently. A chat
// worker exits after idleTimeout without updates and is started again on the
// next one.
type Poller struct {
	client      *Client
	handler     UpdateHandler
	attempts    uint
	retryDelay  time.Duration
	backoff     time.Duration
	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[int64]*chatWorker
	wg      sync.WaitGroup
}

type chatWorker struct {
	updates chan Update
	// pending counts updates handed to the worker and not yet handled.
	// Guarded by Poller.mu.
	pending int
}

// NewPoller creates a poller for client.
func NewPoller(client *Client, handler UpdateHandler) *Poller {
	return &Poller{
		client:      client,
		handler:     handler,
		attempts:    5,
		retryDelay:  time.Second,
		backoff:     5 * time.Second,
		idleTimeout: 5 * time.Minute,
		workers:     make(map[int64]*chatWorker),
	}
}

// Run polls until ctx is cancelled or Telegram rejects the bot permanently.
// Updates already dispatched are handled before Run returns.
func (p *Poller) Run(ctx context.Context) error {
	defer p.stopWorkers()

	slog.Info("telegram poller started")
	var offset int64
	for {
		if ctx.Err() != nil {
			slog.Info("telegram poller stopped")
			return nil
		}

		updates, err := p.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			var perm *PermanentError
			if errors.As(err, &perm) {
				return fmt.Errorf("poll updates: %w", err)
			}
			metrics.TelegramUpdates.WithLabelValues("poll_failed").Inc()
			slog.Error("telegram polling failed, backing off", "backoff", p.backoff, "error", err)
			sleep(ctx, p.backoff)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.dispatch(ctx, u)
		}
	}
}

func (p *Poller) poll(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	var lastErr error

	err := retry.Do(
		func() error {
			u, err := p.client.GetUpdates(ctx, offset)
			if err != nil {
				lastErr = err
				if wait := GetRetryAfter(err); wait > 0 {
					sleep(ctx, wait)
				}
				return err
			}
			updates = u
			return nil
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying telegram getUpdates", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return updates, nil
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	if u.Message == nil || u.Message.Text == "" {
		metrics.TelegramUpdates.WithLabelValues("ignored").Inc()
		return
	}
	metrics.TelegramUpdates.WithLabelValues("dispatched").Inc()
	chatID := u.Message.Chat.ID

	p.mu.Lock()
	w, ok := p.workers[chatID]
	if !ok {
		w = &chatWorker{updates: make(chan Update, 16)}
		p.workers[chatID] = w
		p.wg.Add(1)
		go p.work(ctx, chatID, w)
	}
	w.pending++
	p.mu.Unlock()

	select {
	case w.updates <- u:
	case <-ctx.Done():
		p.mu.Lock()
		w.pending--
		p.mu.Unlock()
	}
}

func (p *Poller) work(ctx context.Context, chatID int64, w *chatWorker) {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case u, ok := <-w.updates:
			if !ok {
				return
			}
			p.handler(ctx, u)
			p.mu.Lock()
			w.pending--
			p.mu.Unlock()
		case <-idle.C:
			p.mu.Lock()
			if w.pending == 0 {
				delete(p.workers, chatID)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
		idle.Reset(p.idleTimeout)
	}
}

func (p *Poller) stopWorkers() {
	p.mu.Lock()
	for id, w := range p.workers {
		close(w.updates)
		delete(p.workers, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
