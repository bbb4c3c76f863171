package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyIsTotal(t *testing.T) {
	cases := map[Kind]RenderHint{
		KindMessage:      HintChatBubble,
		KindUserJoined:   HintJoinBanner,
		KindUserLeft:     HintLeaveBanner,
		KindSystem:       HintSystemNotice,
		KindNotification: HintSystemNotice,
		KindError:        HintErrorNotice,
		KindUnknown:      HintFallback,
		KindRaw:          HintFallback,
		Kind("future"):   HintFallback,
	}
	for kind, hint := range cases {
		require.Equal(t, hint, Classify(Event{Kind: kind}), "kind %s", kind)
	}
}

func TestLogAppendOrder(t *testing.T) {
	log := NewLog()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	frames := []string{
		`{"type":"user_joined","username":"ada"}`,
		"ping",
		`{"type":"message","username":"ada","content":"hello"}`,
	}
	// arrival timestamps deliberately go backwards; order must not follow them
	for i, f := range frames {
		entry := log.Append(EntryFor(Frame(f), base.Add(-time.Duration(i)*time.Minute)))
		require.Equal(t, uint64(i+1), entry.Seq)
	}

	snap := log.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, 3, log.Len())
	require.Equal(t, HintJoinBanner, snap[0].Hint)
	require.Equal(t, HintFallback, snap[1].Hint)
	require.Equal(t, "ping", snap[1].Event.Raw)
	require.Equal(t, HintChatBubble, snap[2].Hint)
	for i := 1; i < len(snap); i++ {
		require.Less(t, snap[i-1].Seq, snap[i].Seq)
	}
}

func TestLogSnapshotIsACopy(t *testing.T) {
	log := NewLog()
	log.Append(EntryFor(Frame("one"), time.Now()))
	snap := log.Snapshot()
	snap[0].Event.Raw = "mutated"
	log.Append(EntryFor(Frame("two"), time.Now()))

	require.Len(t, snap, 1)
	require.Equal(t, "one", log.Snapshot()[0].Event.Raw)
}

func TestLogZeroValue(t *testing.T) {
	var log Log
	require.Equal(t, uint64(1), log.Append(LogEntry{}).Seq)
	require.Equal(t, uint64(2), log.Append(LogEntry{}).Seq)
}

type recordingSender struct {
	sent []string
	err  error
}

func (s *recordingSender) Send(text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func TestComposerSubmit(t *testing.T) {
	var c Composer
	c.SetDraft("   \t")
	_, ok := c.Submit()
	require.False(t, ok)
	require.Equal(t, "   \t", c.Draft())

	c.SetDraft(" hi there ")
	text, ok := c.Submit()
	require.True(t, ok)
	require.Equal(t, " hi there ", text)
	require.Empty(t, c.Draft())
}

func TestComposerSendTo(t *testing.T) {
	var c Composer
	sender := &recordingSender{}

	sent, err := c.SendTo(sender)
	require.NoError(t, err)
	require.False(t, sent)
	require.Empty(t, sender.sent)

	c.SetDraft("hello")
	sent, err = c.SendTo(sender)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, []string{"hello"}, sender.sent)
	require.Empty(t, c.Draft())
}

func TestComposerKeepsDraftOnFailure(t *testing.T) {
	var c Composer
	failure := errors.New("not connected")
	c.SetDraft("keep me")

	sent, err := c.SendTo(&recordingSender{err: failure})
	require.ErrorIs(t, err, failure)
	require.False(t, sent)
	require.Equal(t, "keep me", c.Draft())
}
