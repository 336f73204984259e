package quiz

import "sync"

type key struct {
	chatID int64
	usr    int64
}

// Inbox routes the next message of a user in a chat to whoever is waiting for
// it
type Inbox struct {
	mu      sync.Mutex
	waiting map[key]chan string
}

func NewInbox() *Inbox {
	return &Inbox{waiting: make(map[key]chan string)}
}

// Expect registers interest in the next message of usr in chatID. The
// returned function must be called once the caller stops waiting.
func (in *Inbox) Expect(chatID, usr int64) (<-chan string, func()) {
	k := key{chatID, usr}
	ch := make(chan string, 1)

	in.mu.Lock()
	in.waiting[k] = ch
	in.mu.Unlock()

	return ch, func() {
		in.mu.Lock()
		if in.waiting[k] == ch {
			delete(in.waiting, k)
		}
		in.mu.Unlock()
	}
}

// Deliver hands the message to the waiter, if any. It reports whether the
// message was consumed; a consumed message must not be handled elsewhere.
func (in *Inbox) Deliver(chatID, usr int64, text string) bool {
	k := key{chatID, usr}

	in.mu.Lock()
	defer in.mu.Unlock()

	ch, ok := in.waiting[k]
	if !ok {
		return false
	}
	delete(in.waiting, k)
	ch <- text
	return true
}
