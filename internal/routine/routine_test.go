package routine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlaybot/parlay/internal/brain"
	"github.com/parlaybot/parlay/internal/fault"
	"github.com/parlaybot/parlay/internal/models"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// fakeChat serves message snapshots in order, repeating the last one, and
// records submissions.
type fakeChat struct {
	snapshots [][]models.Message
	idx       int
	submitted []string

	messagesErr error
	submitErr   error
}

func (f *fakeChat) Messages(_ context.Context, _ models.ChannelFilter) ([]models.Message, error) {
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	snapshot := f.snapshots[f.idx]
	if f.idx < len(f.snapshots)-1 {
		f.idx++
	}
	return snapshot, nil
}

func (f *fakeChat) Submit(_ context.Context, text string, _ models.ChannelFilter) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, text)
	return nil
}

func (f *fakeChat) Close(_ context.Context) error { return nil }

// fakeSession replies with a fixed answer and counts closes.
type fakeSession struct {
	reply      string
	askErr     error
	asked      []string
	closeCount int
}

func (s *fakeSession) Ask(_ context.Context, text string) (string, error) {
	if s.askErr != nil {
		return "", s.askErr
	}
	s.asked = append(s.asked, text)
	return s.reply, nil
}

func (s *fakeSession) Close() error {
	s.closeCount++
	return nil
}

// fakeBrain hands out fakeSessions.
type fakeBrain struct {
	reply     string
	createErr error
	sessions  []*fakeSession
}

func (b *fakeBrain) CreateSession(_ context.Context) (brain.Session, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	s := &fakeSession{reply: b.reply}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBrain) last() *fakeSession {
	return b.sessions[len(b.sessions)-1]
}

// fakeFilter flags texts containing any of the given words.
type fakeFilter struct {
	words []string
}

func (f *fakeFilter) IsProfane(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// fakeSink collects escalated problems.
type fakeSink struct {
	problems []error
}

func (s *fakeSink) SetProblem(err error) {
	s.problems = append(s.problems, err)
}

// fakeRecorder collects recorded rounds.
type fakeRecorder struct {
	rounds []*models.Round
	err    error
}

func (r *fakeRecorder) CreateRound(_ context.Context, round *models.Round) error {
	if r.err != nil {
		return r.err
	}
	r.rounds = append(r.rounds, round)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func msg(sender, content string) models.Message {
	return models.Message{
		Sender:  sender,
		Content: content,
		Channel: models.ChannelGlobal,
		Raw:     sender + ": " + content,
	}
}

type testDeps struct {
	chat     *fakeChat
	brain    *fakeBrain
	filter   *fakeFilter
	sink     *fakeSink
	recorder *fakeRecorder
}

func newTestRoutine(t *testing.T, snapshots ...[]models.Message) (*Routine, *testDeps) {
	t.Helper()
	deps := &testDeps{
		chat:     &fakeChat{snapshots: snapshots},
		brain:    &fakeBrain{reply: "sure!"},
		filter:   &fakeFilter{},
		sink:     &fakeSink{},
		recorder: &fakeRecorder{},
	}
	cfg := Config{
		BotName:          "bot",
		Channel:          models.ChannelGlobal,
		FocusLostTimeout: 60 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := New(cfg, deps.chat, deps.brain, deps.filter, deps.sink, deps.recorder, logger)
	require.NoError(t, err)
	return r, deps
}

// completeFirstRound drives a fresh routine through one whole round: the
// partner is selected, their message answered and the reply posted. Requires
// the chat fake to serve a snapshot with exactly one eligible partner
// message.
func completeFirstRound(t *testing.T, r *Routine) {
	t.Helper()
	r.Update(context.Background()) // SelectUser
	require.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	r.Update(context.Background()) // FetchPlayerMessage
	require.Equal(t, PhaseFetchAnswer, r.Phase())
	r.Update(context.Background()) // FetchAnswer
	require.Equal(t, PhasePostAnswer, r.Phase())
	r.Update(context.Background()) // PostAnswer
	require.Equal(t, PhaseFetchPlayerMessage, r.Phase())
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresFilter(t *testing.T) {
	cfg := Config{BotName: "bot", Channel: models.ChannelGlobal}
	_, err := New(cfg, &fakeChat{}, &fakeBrain{}, nil, &fakeSink{}, nil, nil)
	assert.Error(t, err)
}

func TestNew_RequiresBotName(t *testing.T) {
	cfg := Config{Channel: models.ChannelGlobal}
	_, err := New(cfg, &fakeChat{}, &fakeBrain{}, &fakeFilter{}, &fakeSink{}, nil, nil)
	assert.Error(t, err)
}

func TestNew_StartsInSelectUser(t *testing.T) {
	r, _ := newTestRoutine(t)
	assert.Equal(t, PhaseSelectUser, r.Phase())
}

// ---------------------------------------------------------------------------
// SelectUser
// ---------------------------------------------------------------------------

func TestSelectUser_PicksMostRecentSender(t *testing.T) {
	r, deps := newTestRoutine(t, []models.Message{
		msg("Alice", "hello there"),
		msg("Carol", "anyone around?"),
	})

	r.Update(context.Background())

	assert.Equal(t, "Carol", r.Partner())
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	assert.Len(t, deps.brain.sessions, 1)
}

func TestSelectUser_SkipsOwnMessages(t *testing.T) {
	r, _ := newTestRoutine(t, []models.Message{
		msg("Alice", "hello"),
		msg("bot", "hi, I am here"),
	})

	r.Update(context.Background())

	assert.Equal(t, "Alice", r.Partner())
}

func TestSelectUser_SkipsProfaneSenders(t *testing.T) {
	r, deps := newTestRoutine(t, []models.Message{
		msg("Alice", "nice weather"),
		msg("Mallory", "dreck everywhere"),
	})
	deps.filter.words = []string{"dreck"}

	r.Update(context.Background())

	assert.Equal(t, "Alice", r.Partner())
}

func TestSelectUser_NobodyToSelect_StaysAndRetries(t *testing.T) {
	r, deps := newTestRoutine(t, []models.Message{
		msg("bot", "talking to myself"),
	})

	r.Update(context.Background())

	assert.Equal(t, "", r.Partner())
	assert.Equal(t, PhaseSelectUser, r.Phase())
	// Not a fault, nothing escalated, no retry budget spent.
	assert.Empty(t, deps.sink.problems)
	assert.Equal(t, 0, r.retryCount)
}

func TestSelectUser_SessionFailure_IsRetriedAsSemanticFault(t *testing.T) {
	r, deps := newTestRoutine(t, []models.Message{
		msg("Alice", "hello"),
	})
	deps.brain.createErr = fmt.Errorf("backend down")

	r.Update(context.Background())

	assert.Equal(t, PhaseSelectUser, r.Phase())
	assert.Empty(t, deps.sink.problems)
	assert.Equal(t, 1, r.retryCount)
}

// ---------------------------------------------------------------------------
// FetchPlayerMessage
// ---------------------------------------------------------------------------

func TestFetchPlayerMessage_StripsBotName(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi bot")}
	r, deps := newTestRoutine(t, snapshot)

	r.Update(context.Background()) // SelectUser
	require.Equal(t, "Alice", r.Partner())
	r.Update(context.Background()) // FetchPlayerMessage
	require.Equal(t, PhaseFetchAnswer, r.Phase())
	r.Update(context.Background()) // FetchAnswer

	require.Len(t, deps.brain.sessions, 1)
	assert.Equal(t, []string{"hi "}, deps.brain.sessions[0].asked)
}

func TestFetchPlayerMessage_HighWaterMark_NeverReturnsSeenMessages(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hello bot")}
	r, _ := newTestRoutine(t, snapshot)

	completeFirstRound(t, r)

	// The same snapshot again: the message is already known.
	r.Update(context.Background())
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	assert.False(t, r.hasPlayerMsg)
}

func TestFetchPlayerMessage_SkipsProfanePartnerMessages(t *testing.T) {
	first := []models.Message{msg("Alice", "hello")}
	second := []models.Message{
		msg("Alice", "hello"),
		msg("Alice", "you dreck"),
	}
	r, deps := newTestRoutine(t, first, first, second)
	deps.filter.words = []string{"dreck"}

	completeFirstRound(t, r)
	r.Update(context.Background()) // only the profane message is new

	// Skipped without a fault and without an answer.
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	assert.False(t, r.hasPlayerMsg)
	assert.Empty(t, deps.sink.problems)
}

func TestFetchPlayerMessage_FocusLostTimeout(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi")}
	r, _ := newTestRoutine(t, snapshot)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	completeFirstRound(t, r)

	// First idle tick starts the counter.
	r.Update(context.Background())
	require.Equal(t, PhaseFetchPlayerMessage, r.Phase())

	// 61s of simulated silence exceeds the 60s timeout.
	now = now.Add(61 * time.Second)
	r.Update(context.Background())

	assert.Equal(t, PhaseSelectUser, r.Phase())
}

func TestFetchPlayerMessage_NewMessageResetsIdleClock(t *testing.T) {
	first := []models.Message{msg("Alice", "hi")}
	second := []models.Message{msg("Alice", "hi"), msg("Alice", "still here")}
	r, _ := newTestRoutine(t, first, first, first, second)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	completeFirstRound(t, r)
	r.Update(context.Background()) // idle, counter starts
	now = now.Add(30 * time.Second)

	r.Update(context.Background()) // new message arrives

	assert.Equal(t, PhaseFetchAnswer, r.Phase())
	assert.Equal(t, time.Duration(0), r.noMessageElapsed)
	assert.True(t, r.noMessageSince.IsZero())
}

func TestFetchPlayerMessage_FocusSwitchRequest(t *testing.T) {
	first := []models.Message{msg("Alice", "hi")}
	second := []models.Message{
		msg("Alice", "hi"),
		msg("Carol", "hey bot, talk to me"),
	}
	r, _ := newTestRoutine(t, first, first, second)

	completeFirstRound(t, r)
	require.Equal(t, "Alice", r.Partner())

	r.Update(context.Background()) // Carol mentions the bot

	assert.Equal(t, PhaseSelectUser, r.Phase())
}

func TestFetchPlayerMessage_QualifyingMessageBeatsFocusSwitch(t *testing.T) {
	first := []models.Message{msg("Alice", "hi")}
	second := []models.Message{
		msg("Alice", "hi"),
		msg("Alice", "how are you?"),
		msg("Carol", "hey bot, over here"),
	}
	r, _ := newTestRoutine(t, first, first, second)

	completeFirstRound(t, r)
	r.Update(context.Background())

	// Alice's new message wins over Carol's interruption.
	assert.Equal(t, PhaseFetchAnswer, r.Phase())
	assert.Equal(t, "Alice", r.Partner())
}

func TestFetchPlayerMessage_OtherSendersWithoutMention_NoSwitch(t *testing.T) {
	first := []models.Message{msg("Alice", "hi")}
	second := []models.Message{
		msg("Alice", "hi"),
		msg("Carol", "unrelated chatter"),
	}
	r, _ := newTestRoutine(t, first, first, second)

	completeFirstRound(t, r)
	r.Update(context.Background())

	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	assert.Equal(t, "Alice", r.Partner())
}

// ---------------------------------------------------------------------------
// FetchAnswer / PostAnswer
// ---------------------------------------------------------------------------

func driveToPostAnswer(t *testing.T, r *Routine) {
	t.Helper()
	r.Update(context.Background()) // SelectUser
	require.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	r.Update(context.Background()) // FetchPlayerMessage
	require.Equal(t, PhaseFetchAnswer, r.Phase())
	r.Update(context.Background()) // FetchAnswer
	require.Equal(t, PhasePostAnswer, r.Phase())
}

func TestPostAnswer_SubstitutesGuestToken(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "how are you?")}
	r, deps := newTestRoutine(t, snapshot)
	deps.brain.reply = "Hello gast, how are you?"

	driveToPostAnswer(t, r)
	r.Update(context.Background()) // PostAnswer

	require.Len(t, deps.chat.submitted, 1)
	assert.Equal(t, "Hello Alice, how are you?", deps.chat.submitted[0])
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
}

func TestPostAnswer_SuppressesEcho(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "Hello!!!")}
	r, deps := newTestRoutine(t, snapshot)
	deps.brain.reply = "hello"

	driveToPostAnswer(t, r)
	r.Update(context.Background())

	assert.Empty(t, deps.chat.submitted)
	// Suppression still finishes the round.
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	require.Len(t, deps.recorder.rounds, 1)
	assert.False(t, deps.recorder.rounds[0].Posted)
}

func TestPostAnswer_SuppressesProfaneReply(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "say something mean")}
	r, deps := newTestRoutine(t, snapshot)
	deps.brain.reply = "you are dreck"
	deps.filter.words = []string{"dreck"}

	driveToPostAnswer(t, r)
	r.Update(context.Background())

	assert.Empty(t, deps.chat.submitted)
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
}

func TestPostAnswer_RecordsPostedRound(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "how are you?")}
	r, deps := newTestRoutine(t, snapshot)
	deps.brain.reply = "doing great, gast!"

	driveToPostAnswer(t, r)
	r.Update(context.Background())

	require.Len(t, deps.recorder.rounds, 1)
	round := deps.recorder.rounds[0]
	assert.Equal(t, "Alice", round.Partner)
	assert.Equal(t, "how are you?", round.PlayerMessage)
	assert.Equal(t, "doing great, Alice!", round.Reply)
	assert.True(t, round.Posted)
}

func TestPostAnswer_RecorderFailureDoesNotDisturbConversation(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "how are you?")}
	r, deps := newTestRoutine(t, snapshot)
	deps.recorder.err = fmt.Errorf("disk full")

	driveToPostAnswer(t, r)
	r.Update(context.Background())

	assert.Len(t, deps.chat.submitted, 1)
	assert.Equal(t, PhaseFetchPlayerMessage, r.Phase())
	assert.Empty(t, deps.sink.problems)
}

func TestFetchAnswer_EmptyReplyIsSemanticFault(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi")}
	r, deps := newTestRoutine(t, snapshot)
	deps.brain.reply = ""

	r.Update(context.Background())
	r.Update(context.Background())
	require.Equal(t, PhaseFetchAnswer, r.Phase())
	r.Update(context.Background())

	// Swallowed and retried in the same phase.
	assert.Equal(t, PhaseFetchAnswer, r.Phase())
	assert.Equal(t, 1, r.retryCount)
	assert.Empty(t, deps.sink.problems)
}

// ---------------------------------------------------------------------------
// Failure policy
// ---------------------------------------------------------------------------

func TestRetryBudget_EscalatesWhenExhausted(t *testing.T) {
	r, deps := newTestRoutine(t)
	deps.chat.messagesErr = fault.Transientf("session is stale")

	for i := 0; i < maxSelfResolveTries; i++ {
		r.Update(context.Background())
		assert.Empty(t, deps.sink.problems, "fault %d should be swallowed", i+1)
	}

	// The budget is used up; the next fault escalates.
	r.Update(context.Background())
	require.Len(t, deps.sink.problems, 1)
	assert.Equal(t, fault.KindTransient, fault.KindOf(deps.sink.problems[0]))
}

func TestRetryBudget_CleanRoundsRestoreBudget(t *testing.T) {
	snapshot := []models.Message{msg("bot", "only me here")}
	r, deps := newTestRoutine(t, snapshot)

	// Four faults, one short of the ceiling.
	deps.chat.messagesErr = fault.Transientf("timeout")
	for i := 0; i < 4; i++ {
		r.Update(context.Background())
	}
	require.Equal(t, 4, r.retryCount)

	// The first clean round only clears the problem flag; the three after
	// it build the streak that earns a fresh budget.
	deps.chat.messagesErr = nil
	for i := 0; i < 4; i++ {
		r.Update(context.Background())
	}
	assert.Equal(t, 0, r.retryCount)

	// Four more faults stay under the ceiling: no escalation.
	deps.chat.messagesErr = fault.Transientf("timeout")
	for i := 0; i < 4; i++ {
		r.Update(context.Background())
	}
	assert.Empty(t, deps.sink.problems)
}

func TestRetryBudget_ShortCleanStreakKeepsCount(t *testing.T) {
	snapshot := []models.Message{msg("bot", "only me here")}
	r, deps := newTestRoutine(t, snapshot)

	deps.chat.messagesErr = fault.Transientf("timeout")
	for i := 0; i < 3; i++ {
		r.Update(context.Background())
	}
	require.Equal(t, 3, r.retryCount)

	// Three clean rounds: the flag-clearing round plus a streak of two.
	// Not enough for a fresh budget.
	deps.chat.messagesErr = nil
	for i := 0; i < 3; i++ {
		r.Update(context.Background())
	}

	assert.Equal(t, 3, r.retryCount)
	assert.Equal(t, 2, r.cleanStreak)
}

func TestUnexpectedFault_EscalatesImmediately(t *testing.T) {
	r, deps := newTestRoutine(t)
	deps.chat.messagesErr = fmt.Errorf("something entirely different")

	r.Update(context.Background())

	require.Len(t, deps.sink.problems, 1)
	assert.Equal(t, fault.KindUnexpected, fault.KindOf(deps.sink.problems[0]))
}

// ---------------------------------------------------------------------------
// Reset and totality
// ---------------------------------------------------------------------------

func TestReset_ClosesSessionAndReturnsToSelectUser(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi")}
	r, deps := newTestRoutine(t, snapshot)

	r.Update(context.Background())
	require.Len(t, deps.brain.sessions, 1)

	r.Reset()

	assert.Equal(t, PhaseSelectUser, r.Phase())
	assert.Equal(t, "", r.Partner())
	assert.Equal(t, 1, deps.brain.sessions[0].closeCount)
}

func TestReset_Idempotent(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi")}
	r, deps := newTestRoutine(t, snapshot)

	r.Update(context.Background())
	r.Reset()
	r.Reset()

	assert.Equal(t, PhaseSelectUser, r.Phase())
	assert.Nil(t, r.session)
	// The second Reset has nothing left to close.
	assert.Equal(t, 1, deps.brain.sessions[0].closeCount)
}

func TestReselect_ClosesPreviousSession(t *testing.T) {
	snapshot := []models.Message{msg("Alice", "hi")}
	r, deps := newTestRoutine(t, snapshot)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	completeFirstRound(t, r)
	r.Update(context.Background()) // idle, counter starts
	now = now.Add(2 * time.Minute)
	r.Update(context.Background()) // focus lost
	require.Equal(t, PhaseSelectUser, r.Phase())

	r.Update(context.Background()) // reselect opens a fresh session

	require.Len(t, deps.brain.sessions, 2)
	assert.Equal(t, 1, deps.brain.sessions[0].closeCount)
	assert.Equal(t, 0, deps.brain.last().closeCount)
}

func TestUpdate_PhaseIsAlwaysDefined(t *testing.T) {
	valid := map[Phase]bool{
		PhaseSelectUser:         true,
		PhaseFetchPlayerMessage: true,
		PhaseFetchAnswer:        true,
		PhasePostAnswer:         true,
	}

	snapshots := [][]models.Message{
		{msg("Alice", "hi bot")},
		{msg("Alice", "hi bot"), msg("Carol", "bot come here")},
		{},
		{msg("bot", "just me")},
	}
	r, deps := newTestRoutine(t, snapshots...)
	deps.brain.reply = "hi there gast"

	for i := 0; i < 25; i++ {
		if i == 10 {
			deps.chat.messagesErr = fault.Transientf("flaky")
		}
		if i == 14 {
			deps.chat.messagesErr = nil
		}
		r.Update(context.Background())
		assert.True(t, valid[r.Phase()], "tick %d left phase %q", i, r.Phase())
	}
}
