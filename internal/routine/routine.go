// Package routine implements the conversation state machine. A Routine works
// in rounds: each call to Update performs one bounded step and returns, so a
// supervising loop keeps control for timeout and shutdown checks between
// steps.
package routine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/parlaybot/parlay/internal/brain"
	"github.com/parlaybot/parlay/internal/chat"
	"github.com/parlaybot/parlay/internal/fault"
	"github.com/parlaybot/parlay/internal/models"
	"github.com/parlaybot/parlay/internal/profanity"
)

// Phase is the state the routine is currently in.
type Phase string

const (
	PhaseSelectUser         Phase = "select_user"
	PhaseFetchPlayerMessage Phase = "fetch_player_message"
	PhaseFetchAnswer        Phase = "fetch_answer"
	PhasePostAnswer         Phase = "post_answer"
)

// guestNeedle is how the backend refers to the partner it cannot name.
// Occurrences are replaced with the partner's real name before posting.
const guestNeedle = "gast"

const (
	// maxSelfResolveTries is how many consecutive faults the routine may
	// swallow and retry before escalating to the supervisor.
	maxSelfResolveTries = 5
	// cleanStreakForReset is how many consecutive clean rounds restore a
	// fresh retry budget.
	cleanStreakForReset = 3
)

// nonLetters matches everything stripped before comparing a reply against
// the partner's message.
var nonLetters = regexp.MustCompile(`[^a-z]`)

// ProblemSink receives faults the routine could not resolve by itself.
type ProblemSink interface {
	SetProblem(err error)
}

// Recorder persists completed conversation rounds. Satisfied by store.Store.
type Recorder interface {
	CreateRound(ctx context.Context, r *models.Round) error
}

// Config holds the settings the routine consumes.
type Config struct {
	// BotName is the bot's own chat identity. Used to skip its own
	// messages, to detect focus-switch mentions, and stripped from
	// partner messages before they reach the backend.
	BotName string
	// Channel restricts which chat channel is read and written.
	Channel models.ChannelFilter
	// FocusLostTimeout is the idle duration after which the current
	// partner is presumed disengaged and a new one is selected.
	FocusLostTimeout time.Duration
}

// Routine is the phase state machine. It owns the selected partner, the
// active backend session, and the message bookkeeping. Not safe for
// concurrent use; exactly one supervisor drives it.
type Routine struct {
	cfg      Config
	chat     chat.Client
	brain    brain.Client
	filter   profanity.Filter
	problems ProblemSink
	recorder Recorder // optional
	logger   *slog.Logger

	botNamePattern *regexp.Regexp
	guestPattern   *regexp.Regexp

	now func() time.Time

	phase   Phase
	partner string
	session brain.Session

	lastKnown    *models.Message
	hasPlayerMsg bool
	playerMsg    string
	reply        string

	noMessageElapsed time.Duration
	noMessageSince   time.Time

	retryCount  int
	cleanStreak int
	hadProblem  bool
}

// New creates a routine in the SelectUser phase. The profanity filter is
// required; a missing filter is a construction error so the service never
// enters its loop without one.
func New(cfg Config, chatClient chat.Client, brainClient brain.Client, filter profanity.Filter, problems ProblemSink, recorder Recorder, logger *slog.Logger) (*Routine, error) {
	if cfg.BotName == "" {
		return nil, fmt.Errorf("bot name is empty")
	}
	if filter == nil {
		return nil, fmt.Errorf("profanity filter is not available")
	}
	if chatClient == nil || brainClient == nil || problems == nil {
		return nil, fmt.Errorf("missing dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Routine{
		cfg:            cfg,
		chat:           chatClient,
		brain:          brainClient,
		filter:         filter,
		problems:       problems,
		recorder:       recorder,
		logger:         logger,
		botNamePattern: regexp.MustCompile("(?i)" + regexp.QuoteMeta(cfg.BotName)),
		guestPattern:   regexp.MustCompile("(?i)" + regexp.QuoteMeta(guestNeedle)),
		now:            time.Now,
		phase:          PhaseSelectUser,
	}, nil
}

// Phase returns the phase the routine is currently in.
func (r *Routine) Phase() Phase {
	return r.phase
}

// Partner returns the currently selected chat partner, or "" if none.
func (r *Routine) Partner() string {
	return r.partner
}

// Reset returns the routine to its initial situation: the backend session is
// closed and the next Update begins with SelectUser again. Calling Reset
// more than once is safe.
func (r *Routine) Reset() {
	r.phase = PhaseSelectUser

	r.hadProblem = false
	r.retryCount = 0
	r.cleanStreak = 0

	r.closeSession()
	r.partner = ""
	r.lastKnown = nil
	r.hasPlayerMsg = false
	r.playerMsg = ""
	r.reply = ""
	r.noMessageElapsed = 0
	r.noMessageSince = time.Time{}
}

// Update performs one round of processing: a single bounded step of the
// current phase. Faults the routine cannot resolve within its retry budget
// are escalated through the problem sink.
func (r *Routine) Update(ctx context.Context) {
	if r.hadProblem {
		// Start this round with a clean slate.
		r.hadProblem = false
	} else if r.retryCount > 0 {
		r.cleanStreak++
		if r.cleanStreak >= cleanStreakForReset {
			// Survived enough rounds to earn a fresh retry budget.
			r.cleanStreak = 0
			r.retryCount = 0
		}
	}

	err := r.step(ctx)
	if err == nil {
		return
	}

	r.hadProblem = true
	if !fault.Retryable(err) {
		r.problems.SetProblem(err)
		return
	}
	if r.retryCount >= maxSelfResolveTries {
		// Could not resolve the problem within the budget.
		r.problems.SetProblem(err)
		return
	}
	r.retryCount++
	switch fault.KindOf(err) {
	case fault.KindSemantic:
		r.logger.Error("routine fault, retrying", "phase", r.phase, "try", r.retryCount, "err", err)
	default:
		// Low-level automation faults are expected noise.
		r.logger.Debug("automation fault, retrying", "phase", r.phase, "try", r.retryCount, "err", err)
	}
}

func (r *Routine) step(ctx context.Context) error {
	switch r.phase {
	case PhaseSelectUser:
		return r.selectUser(ctx)
	case PhaseFetchPlayerMessage:
		return r.fetchPlayerMessage(ctx)
	case PhaseFetchAnswer:
		return r.fetchAnswer(ctx)
	case PhasePostAnswer:
		return r.postAnswer(ctx)
	default:
		return fmt.Errorf("unknown phase %q", r.phase)
	}
}

// selectUser scans the channel from the most recent message backward for a
// sender that is neither the bot itself nor profane, and opens a backend
// session for them. Finding nobody is not an error; the routine simply stays
// in SelectUser.
func (r *Routine) selectUser(ctx context.Context) error {
	// Free resources of the previous partner.
	r.closeSession()
	r.partner = ""
	r.lastKnown = nil
	r.noMessageElapsed = 0
	r.noMessageSince = time.Time{}

	messages, err := r.chat.Messages(ctx, r.cfg.Channel)
	if err != nil {
		return err
	}

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if !m.HasSender() || m.Sender == r.cfg.BotName {
			continue
		}
		if r.isProfane(m.Content) {
			continue
		}
		r.partner = m.Sender
		break
	}

	if r.partner == "" {
		// Nobody to talk to right now, try again next round.
		return nil
	}

	session, err := r.brain.CreateSession(ctx)
	if err != nil {
		return fault.Semantic(fmt.Errorf("%w: %v", fault.ErrUserSelection, err))
	}
	r.session = session

	r.logger.Info("partner selected", "partner", r.partner)
	r.phase = PhaseFetchPlayerMessage
	return nil
}

// fetchPlayerMessage drains all messages newer than the high-water mark,
// looking for the most recent non-profane one authored by the partner. It
// also runs the idle accounting and the focus-switch check.
func (r *Routine) fetchPlayerMessage(ctx context.Context) error {
	r.hasPlayerMsg = false
	r.playerMsg = ""

	messages, err := r.chat.Messages(ctx, r.cfg.Channel)
	if err != nil {
		return err
	}

	// Walk newest to oldest until the last known message is reached.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if r.lastKnown != nil && m.Equal(*r.lastKnown) {
			break
		}
		if m.Sender != r.partner || r.isProfane(m.Content) {
			continue
		}
		// Strip the bot's own name so the backend does not get confused
		// by being addressed.
		r.playerMsg = r.botNamePattern.ReplaceAllString(m.Content, "")
		r.hasPlayerMsg = true
		break
	}

	// Advance the high-water mark regardless of a match.
	if len(messages) > 0 {
		newest := messages[len(messages)-1]
		r.lastKnown = &newest
	}

	if r.hasPlayerMsg {
		r.noMessageElapsed = 0
		r.noMessageSince = time.Time{}
	} else if r.noMessageSince.IsZero() {
		r.noMessageSince = r.now()
	} else {
		now := r.now()
		r.noMessageElapsed += now.Sub(r.noMessageSince)
		r.noMessageSince = now
	}

	switch {
	case r.noMessageElapsed >= r.cfg.FocusLostTimeout:
		// Partner is presumed disengaged.
		r.logger.Info("focus lost, selecting a new partner", "partner", r.partner, "idle", r.noMessageElapsed)
		r.phase = PhaseSelectUser
	case !r.hasPlayerMsg && r.focusSwitchRequested():
		r.logger.Info("focus switch requested", "partner", r.partner, "by", r.lastKnown.Sender)
		r.phase = PhaseSelectUser
	case r.hasPlayerMsg:
		r.phase = PhaseFetchAnswer
	}
	return nil
}

// focusSwitchRequested reports whether the newest channel message comes from
// someone other than the partner and mentions the bot's name.
func (r *Routine) focusSwitchRequested() bool {
	if r.lastKnown == nil || !r.lastKnown.HasSender() {
		return false
	}
	if r.lastKnown.Sender == r.partner {
		return false
	}
	return r.botNamePattern.MatchString(r.lastKnown.Content)
}

// fetchAnswer sends the pending partner message to the backend session.
func (r *Routine) fetchAnswer(ctx context.Context) error {
	r.reply = ""

	reply, err := r.session.Ask(ctx, r.playerMsg)
	if err != nil {
		return fault.Semantic(fmt.Errorf("%w: %v", fault.ErrFetchAnswer, err))
	}
	if reply == "" {
		return fault.Semantic(fault.ErrFetchAnswer)
	}

	r.reply = reply
	r.phase = PhasePostAnswer
	return nil
}

// postAnswer substitutes the guest token with the partner's name and posts
// the reply, unless it is profane or an echo of the partner's own message.
// The routine always continues with FetchPlayerMessage afterwards.
func (r *Routine) postAnswer(ctx context.Context) error {
	adjusted := r.guestPattern.ReplaceAllString(r.reply, r.partner)

	posted := false
	if r.isProfane(adjusted) {
		r.logger.Info("reply suppressed, profane", "partner", r.partner)
	} else if identicalMessages(r.playerMsg, adjusted) {
		// An echoed message would read as spam to the game.
		r.logger.Info("reply suppressed, echoes the partner", "partner", r.partner)
	} else {
		if err := r.chat.Submit(ctx, adjusted, r.cfg.Channel); err != nil {
			return err
		}
		posted = true
	}

	r.recordRound(ctx, adjusted, posted)
	r.phase = PhaseFetchPlayerMessage
	return nil
}

// recordRound persists the finished round. Recording is best effort and
// never disturbs the conversation.
func (r *Routine) recordRound(ctx context.Context, reply string, posted bool) {
	if r.recorder == nil {
		return
	}
	round := &models.Round{
		Partner:       r.partner,
		PlayerMessage: r.playerMsg,
		Reply:         reply,
		Posted:        posted,
	}
	if err := r.recorder.CreateRound(ctx, round); err != nil {
		r.logger.Warn("record round", "err", err)
	}
}

// isProfane wraps the filter with logging of rejected messages.
func (r *Routine) isProfane(text string) bool {
	if r.filter.IsProfane(text) {
		r.logger.Info("message is profane", "content", text)
		return true
	}
	return false
}

// closeSession releases the backend session if one is open. Double closing
// is tolerated by the session contract.
func (r *Routine) closeSession() {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		r.logger.Warn("close backend session", "err", err)
	}
	r.session = nil
}

// identicalMessages compares two messages in lower case with everything but
// letters stripped.
func identicalMessages(first, second string) bool {
	if first == "" || second == "" {
		return false
	}
	a := nonLetters.ReplaceAllString(strings.ToLower(first), "")
	b := nonLetters.ReplaceAllString(strings.ToLower(second), "")
	return a == b
}
