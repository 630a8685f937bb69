package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/mention-relay/internal/notifications"
)

// OutgoingMessage is a chat message in HTML parse mode. Keyboard, when set,
// replaces the user's reply keyboard; RemoveKeyboard hides it.
type OutgoingMessage struct {
	ChatID         string
	Text           string
	Keyboard       [][]string
	RemoveKeyboard bool
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboardMarkup struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

type replyKeyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

type sendMessageRequest struct {
	ChatID             string              `json:"chat_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode"`
	LinkPreviewOptions *linkPreviewOptions `json:"link_preview_options,omitempty"`
	ReplyMarkup        any                 `json:"reply_markup,omitempty"`
}

// Send delivers a relay notification.
func (c *Client) Send(ctx context.Context, notification notifications.Notification) error {
	return c.SendMessage(ctx, OutgoingMessage{ChatID: notification.To, Text: notification.Body})
}

// SendMessage sends msg with link previews disabled.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	if !c.config.Enabled {
		slog.Debug("telegram client disabled, skipping", "to", msg.ChatID)
		return nil
	}

	req := sendMessageRequest{
		ChatID:             msg.ChatID,
		Text:               msg.Text,
		ParseMode:          "HTML",
		LinkPreviewOptions: &linkPreviewOptions{IsDisabled: true},
	}
	switch {
	case len(msg.Keyboard) > 0:
		req.ReplyMarkup = buildKeyboard(msg.Keyboard)
	case msg.RemoveKeyboard:
		req.ReplyMarkup = replyKeyboardRemove{RemoveKeyboard: true}
	}

	if err := c.call(ctx, "sendMessage", req, nil, true); err != nil {
		return fmt.Errorf("send message to %s: %w", msg.ChatID, err)
	}
	return nil
}

func buildKeyboard(rows [][]string) replyKeyboardMarkup {
	kb := replyKeyboardMarkup{
		Keyboard:        make([][]keyboardButton, 0, len(rows)),
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	for _, row := range rows {
		buttons := make([]keyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, keyboardButton{Text: label})
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}
