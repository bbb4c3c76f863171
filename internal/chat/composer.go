package chat

import "strings"

// Sender accepts outgoing text. A connection handle satisfies it.
type Sender interface {
	Send(text string) error
}

// Composer holds the outgoing draft.
type Composer struct {
	draft string
}

func (c *Composer) SetDraft(text string) {
	c.draft = text
}

func (c *Composer) Draft() string {
	return c.draft
}

// Submit takes the draft for sending and clears it. A blank draft is left
// untouched and reported with ok=false.
func (c *Composer) Submit() (text string, ok bool) {
	if strings.TrimSpace(c.draft) == "" {
		return "", false
	}
	text = c.draft
	c.draft = ""
	return text, true
}

// SendTo submits the draft to s. The draft is cleared only when s accepts the
// text; on error it is restored so nothing typed is lost.
func (c *Composer) SendTo(s Sender) (bool, error) {
	text, ok := c.Submit()
	if !ok {
		return false, nil
	}
	if err := s.Send(string(Encode(text))); err != nil {
		c.draft = text
		return false, err
	}
	return true, nil
}
