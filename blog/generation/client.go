// Package generation wraps a text-generation backend in the prompt composition,
// validation and retry protocol used to render posts and synthesise metadata.
package generation

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Task names the kind of output a request asks for. Remote backends only see
// the messages; offline backends may dispatch on it.
type Task string

const (
	TaskRender  Task = "render"
	TaskTitle   Task = "title"
	TaskSlug    Task = "slug"
	TaskTags    Task = "tags"
	TaskExcerpt Task = "excerpt"
)

type Request struct {
	Task     Task
	Messages []Message
}

// Client is one text-generation backend. Implementations honour ctx
// cancellation and deadlines; they do not retry.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Stream calls onChunk for each fragment as it arrives. An error returned by
	// onChunk aborts the stream and is returned.
	Stream(ctx context.Context, req Request, onChunk func(chunk string) error) error
}

// firstUserContent returns the original input of a conversation, ignoring any
// corrective turns appended by retries.
func firstUserContent(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}
