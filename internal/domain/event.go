package domain

import "time"

// EveryoneRole is the synthetic role matched when a message mentions everyone.
const EveryoneRole = "@everyone"

// MessageEvent is one inbound Discord message, reduced to what routing needs.
type MessageEvent struct {
	ID              string    `json:"id"`
	Author          string    `json:"author"`
	GuildID         uint64    `json:"guild_id"`
	GuildName       string    `json:"guild_name"`
	ChannelID       string    `json:"channel_id"`
	ChannelName     string    `json:"channel_name"`
	Content         string    `json:"content"`
	MentionedUsers  []string  `json:"mentioned_users"`
	MentionedRoles  []string  `json:"mentioned_roles"`
	MentionEveryone bool      `json:"mention_everyone"`
	Permalink       string    `json:"permalink"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Guild is a Discord community.
type Guild struct {
	ID   uint64
	Name string
}

// Member is a Discord user within a guild.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	Roles       []string
}
