package presence

import "context"

// MessageEvent carries the routing fields of a newly created chat message.
// The message body itself is relayed verbatim as the raw payload; the core
// never persists it.
type MessageEvent struct {
	ChatID  string
	Sender  string
	Members []string
}

// IdentityLookup resolves whether a user identity exists. Owned by the
// user-account store; the core only consults it.
type IdentityLookup interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// ChatDirectory resolves the current member identities of a chat. Owned by
// the chat store; used when an incoming message event doesn't carry its
// member list.
type ChatDirectory interface {
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
}

// AllowAllIdentity accepts every user id. The default when no account store
// is wired in.
type AllowAllIdentity struct{}

func (AllowAllIdentity) UserExists(context.Context, string) (bool, error) { return true, nil }

// EmptyDirectory knows no chats. Message events must then carry their own
// member lists.
type EmptyDirectory struct{}

func (EmptyDirectory) ChatMembers(context.Context, string) ([]string, error) { return nil, nil }
