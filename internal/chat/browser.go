package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/parlaybot/parlay/internal/fault"
	"github.com/parlaybot/parlay/internal/models"
)

// Selectors for the game's chat UI.
const (
	selLoginUser   = `input[name="name"]`
	selLoginPass   = `input[name="password"]`
	selLoginSubmit = `input[type="submit"]`
	selChatInput   = `input[name="chattext"]`
	selChatSubmit  = `input[name="submit"]`
	selChatLines   = `p.chat-line`
)

// channelClasses maps a channel filter to the CSS class the game tags chat
// lines with.
var channelClasses = map[models.ChannelFilter]string{
	models.ChannelGlobal:  "chat-global",
	models.ChannelWorld:   "chat-world",
	models.ChannelWhisper: "chat-whisper",
	models.ChannelDirect:  "chat-direct",
}

// BrowserConfig holds everything needed to open a game session.
type BrowserConfig struct {
	GameURL  string
	Username string
	Password string
	Headless bool
	// Timeout bounds every single page interaction.
	Timeout time.Duration
}

// Browser implements Client by driving the game in a headless browser.
type Browser struct {
	cfg     BrowserConfig
	browser *rod.Browser
	page    *rod.Page
	closed  bool
}

// NewBrowser creates an unconnected browser client. Call Connect before use.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Browser{cfg: cfg}
}

// Connect launches the browser, logs into the game, and waits for the chat
// UI to appear.
func (b *Browser) Connect(ctx context.Context) error {
	if b.cfg.Username == "" || b.cfg.Password == "" {
		return fmt.Errorf("game credentials are empty")
	}

	controlURL, err := launcher.New().Headless(b.cfg.Headless).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	b.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.teardown()
		return fmt.Errorf("open page: %w", err)
	}
	b.page = page

	if err := b.login(); err != nil {
		b.teardown()
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (b *Browser) login() error {
	page := b.page.Timeout(b.cfg.Timeout)
	if err := page.Navigate(b.cfg.GameURL); err != nil {
		return fmt.Errorf("navigate %s: %w", b.cfg.GameURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for login page: %w", err)
	}

	user, err := page.Element(selLoginUser)
	if err != nil {
		return fmt.Errorf("find username field: %w", err)
	}
	if err := user.Input(b.cfg.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}

	pass, err := page.Element(selLoginPass)
	if err != nil {
		return fmt.Errorf("find password field: %w", err)
	}
	if err := pass.Input(b.cfg.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	submit, err := page.Element(selLoginSubmit)
	if err != nil {
		return fmt.Errorf("find login button: %w", err)
	}
	if err := submit.Click("left", 1); err != nil {
		return fmt.Errorf("click login: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for game page: %w", err)
	}

	// The chat input only exists once the game UI has loaded.
	if _, err := page.Element(selChatInput); err != nil {
		return fmt.Errorf("chat input not present after login: %w", err)
	}
	return nil
}

// Messages scrapes the visible chat lines of the given channel.
func (b *Browser) Messages(ctx context.Context, filter models.ChannelFilter) ([]models.Message, error) {
	if b.page == nil {
		return nil, fault.Transientf("game session not connected")
	}
	page := b.page.Context(ctx).Timeout(b.cfg.Timeout)

	selector := fmt.Sprintf("%s.%s", selChatLines, channelClasses[filter])
	elements, err := page.Elements(selector)
	if err != nil {
		return nil, fault.Transient(fmt.Errorf("read chat lines: %w", err))
	}

	messages := make([]models.Message, 0, len(elements))
	for _, el := range elements {
		text, err := el.Text()
		if err != nil {
			return nil, fault.Transient(fmt.Errorf("read chat line text: %w", err))
		}
		messages = append(messages, ParseLine(text, filter))
	}
	return messages, nil
}

// Submit types text into the chat input and sends it.
func (b *Browser) Submit(ctx context.Context, text string, filter models.ChannelFilter) error {
	if b.page == nil {
		return fault.Transientf("game session not connected")
	}
	page := b.page.Context(ctx).Timeout(b.cfg.Timeout)

	input, err := page.Element(selChatInput)
	if err != nil {
		return fault.Transient(fmt.Errorf("find chat input: %w", err))
	}
	if err := input.SelectAllText(); err != nil {
		return fault.Transient(fmt.Errorf("clear chat input: %w", err))
	}
	if err := input.Input(prefixForChannel(filter) + text); err != nil {
		return fault.Transient(fmt.Errorf("fill chat input: %w", err))
	}

	submit, err := page.Element(selChatSubmit)
	if err != nil {
		return fault.Transient(fmt.Errorf("find chat submit: %w", err))
	}
	if err := submit.Click("left", 1); err != nil {
		return fault.Transient(fmt.Errorf("send chat message: %w", err))
	}
	return nil
}

// prefixForChannel returns the slash command the game expects for posting
// outside the global channel.
func prefixForChannel(filter models.ChannelFilter) string {
	switch filter {
	case models.ChannelWorld:
		return "/world "
	case models.ChannelWhisper:
		return "/whisper "
	default:
		return ""
	}
}

// Close logs out of the game and shuts the browser down. Safe to call once;
// logout failures are ignored so the browser still gets released.
func (b *Browser) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.page != nil {
		// Best effort logout so the game does not keep a stale session.
		if logout, err := b.page.Context(ctx).Timeout(b.cfg.Timeout).Element(`a[href*="logout"]`); err == nil {
			_ = logout.Click("left", 1)
		}
	}
	return b.teardown()
}

func (b *Browser) teardown() error {
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	b.page = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
