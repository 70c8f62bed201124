// Package notifier delivers score notifications to chats.
//
// Notify only enqueues. A worker pool drains the queue under a shared rate
// limit and retries failed sends with jittered exponential backoff. Sends the
// transport reports as transport.ErrChatGone are not retried; the OnChatGone
// hook is called instead so the chat can be untracked.
//
// A small dedup window suppresses repeated notifications with the same key,
// e.g. the same score reported twice after a failed last-update write.
package notifier
