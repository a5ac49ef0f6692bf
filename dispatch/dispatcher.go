package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yanxingchangan/llonebot/auth"
	"github.com/yanxingchangan/llonebot/imagestore"
	"github.com/yanxingchangan/llonebot/llm"
	"github.com/yanxingchangan/llonebot/ratelimit"
	"github.com/yanxingchangan/llonebot/session"
)

// Responder delivers an outbound message to the bridge.
type Responder interface {
	Send(ctx context.Context, target Target, segments []Segment) error
}

// MediaFetcher downloads an image payload referenced by an inbound
// segment.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// VideoSource picks a video to recommend.
type VideoSource interface {
	Random(ctx context.Context) (Video, error)
}

type Video struct {
	Title    string
	CoverURL string
	JumpURL  string
}

// Target addresses an outbound message. Exactly one of the two fields
// is set.
type Target struct {
	UserID  int64
	GroupID int64
}

const (
	msgUnauthorized   = "you are not authorized yet, ask the administrator for access"
	msgNoWriteAccess  = "no database write access"
	msgChatFailed     = "something went wrong, please try again later"
	msgNoImages       = "no images to show yet"
	msgNoVideo        = "sorry, no video to recommend right now"
	msgAdminOnly      = "permission denied"
	defaultGroupGreet = "你好"

	keywordVideo        = "视频推荐"
	keywordRandomImage  = "来张美图"
	keywordStatus       = "服务状态"
	keywordCacheCleanup = "清理缓存"
)

type Config struct {
	SelfID      int64
	Model       string
	Temperature float64
	// MediaKeywords maps an exact trigger phrase to image URLs replied
	// verbatim.
	MediaKeywords map[string][]string
}

type Deps struct {
	Logger       *slog.Logger
	Auth         *auth.Manager
	Sessions     *session.Manager
	ChatLimiter  *ratelimit.Limiter
	VideoLimiter *ratelimit.Limiter
	Images       *imagestore.Store
	LLM          llm.Client
	Responder    Responder
	Fetcher      MediaFetcher
	Videos       VideoSource
}

// Dispatcher owns the routing of one inbound event to the admission
// components and composes the reply. It is safe for concurrent use; all
// state lives in the components it wires together.
type Dispatcher struct {
	cfg      Config
	log      *slog.Logger
	auth     *auth.Manager
	sessions *session.Manager
	chat     *ratelimit.Limiter
	video    *ratelimit.Limiter
	images   *imagestore.Store
	llm      llm.Client
	out      Responder
	fetch    MediaFetcher
	videos   VideoSource

	// Now is the clock handed to the limiters. Tests pin it.
	Now func() time.Time
}

func NewDispatcher(cfg Config, d Deps) *Dispatcher {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      log,
		auth:     d.Auth,
		sessions: d.Sessions,
		chat:     d.ChatLimiter,
		video:    d.VideoLimiter,
		images:   d.Images,
		llm:      d.LLM,
		out:      d.Responder,
		fetch:    d.Fetcher,
		videos:   d.Videos,
		Now:      time.Now,
	}
}

// Handle routes one inbound event. It never returns an error; failures
// are logged and, where the sender should know, answered with a short
// text reply.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = "unstamped"
	}
	if ev.PostType != "" && ev.PostType != "message" {
		return
	}
	if ev.UserID == 0 {
		d.log.Warn("event_missing_sender", "event_id", ev.ID)
		return
	}

	log := d.log.With("event_id", ev.ID, "user_id", ev.UserID, "message_type", ev.MessageType)
	switch {
	case ev.IsPrivate():
		d.handlePrivate(ctx, log, ev)
	case ev.IsGroup():
		d.handleGroup(ctx, log, ev)
	default:
		log.Debug("event_ignored")
	}
}

func (d *Dispatcher) handlePrivate(ctx context.Context, log *slog.Logger, ev Event) {
	text := ev.PlainText()
	identity := ev.Identity()

	switch {
	case strings.HasPrefix(text, "/auth"):
		outcome := d.auth.HandleCommand(identity, text)
		log.Info("auth_command", "reason", outcome.Reason)
		d.reply(ctx, log, ev, Text(outcome.Message))

	case d.replyMediaKeyword(ctx, log, ev, text):

	case text == keywordVideo:
		d.sendVideo(ctx, log, ev, false)

	case text == keywordRandomImage:
		d.sendRandomImage(ctx, log, ev)

	case text == keywordStatus || text == keywordCacheCleanup:
		d.handleAdminKeyword(ctx, log, ev, text)

	default:
		d.privateChat(ctx, log, ev, text)
	}
}

func (d *Dispatcher) handleGroup(ctx context.Context, log *slog.Logger, ev Event) {
	text := ev.PlainText()

	switch {
	case strings.HasPrefix(text, "/auth"):
		outcome := d.auth.HandleCommand(ev.Identity(), text)
		log.Info("auth_command", "reason", outcome.Reason)
		d.reply(ctx, log, ev, Text(outcome.Message))
		return

	case d.replyMediaKeyword(ctx, log, ev, text):
		return

	case text == keywordVideo:
		d.sendVideo(ctx, log, ev, true)
		return

	case text == keywordRandomImage:
		d.sendRandomImage(ctx, log, ev)
		return
	}

	if !ev.Mentions(d.cfg.SelfID) {
		return
	}

	if ok, reason := d.chat.Allow(ev.Identity(), d.Now()); !ok {
		log.Info("chat_denied", "reason", reason)
		d.reply(ctx, log, ev, Text(denialMessage(reason)))
		return
	}

	if urls := ev.ImageURLs(); len(urls) > 0 {
		if !d.auth.IsAdmin(ev.Identity()) {
			d.reply(ctx, log, ev, Text(msgNoWriteAccess))
			return
		}
		d.storeImages(ctx, log, ev, urls)
		return
	}

	content := text
	if content == "" {
		content = defaultGroupGreet
	}
	d.chatRoundTrip(ctx, log, ev, content)
}

func (d *Dispatcher) privateChat(ctx context.Context, log *slog.Logger, ev Event, text string) {
	identity := ev.Identity()
	if !d.auth.IsAuthorized(identity) {
		log.Info("chat_denied", "reason", "unauthorized")
		d.reply(ctx, log, ev, Text(msgUnauthorized))
		return
	}

	if ok, reason := d.chat.Allow(identity, d.Now()); !ok {
		log.Info("chat_denied", "reason", reason)
		d.reply(ctx, log, ev, Text(denialMessage(reason)))
		return
	}

	if urls := ev.ImageURLs(); len(urls) > 0 {
		d.storeImages(ctx, log, ev, urls)
		return
	}
	d.chatRoundTrip(ctx, log, ev, text)
}

// chatRoundTrip runs one exchange through the session manager and the
// downstream model. The session is destroyed afterwards regardless of
// outcome.
func (d *Dispatcher) chatRoundTrip(ctx context.Context, log *slog.Logger, ev Event, content string) {
	identity := ev.Identity()
	defer d.sessions.CompleteRoundTrip(identity)

	d.sessions.Append(identity, content, session.RoleUser)
	turns := d.sessions.Turns(identity)
	messages := make([]llm.Message, len(turns))
	for i, t := range turns {
		messages[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}

	res, err := d.llm.Chat(ctx, llm.Request{
		Model:       d.cfg.Model,
		Messages:    messages,
		Temperature: d.cfg.Temperature,
	})
	if err != nil {
		log.Error("chat_failed", "error", err)
		d.reply(ctx, log, ev, Text(msgChatFailed))
		return
	}
	d.sessions.Append(identity, res.Text, session.RoleAssistant)

	log.Info("chat_completed", "input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens, "duration", res.Duration)
	d.reply(ctx, log, ev, Text(res.Text))
}

func (d *Dispatcher) storeImages(ctx context.Context, log *slog.Logger, ev Event, urls []string) {
	saved := 0
	for _, url := range urls {
		payload, err := d.fetch.Fetch(ctx, url)
		if err != nil {
			log.Error("image_fetch_failed", "url", url, "error", err)
			continue
		}
		ok, err := d.images.Insert(ev.Identity(), payload)
		if err != nil {
			log.Error("image_insert_failed", "error", err)
			continue
		}
		if ok {
			saved++
		}
	}
	if saved > 0 {
		log.Info("images_saved", "count", saved)
		d.reply(ctx, log, ev, Text(fmt.Sprintf("saved %d images", saved)))
		return
	}
	d.reply(ctx, log, ev, Text("images were duplicates or could not be saved"))
}

func (d *Dispatcher) sendRandomImage(ctx context.Context, log *slog.Logger, ev Event) {
	payload, ok, err := d.images.Random()
	if err != nil {
		log.Error("random_image_failed", "error", err)
		d.reply(ctx, log, ev, Text(msgChatFailed))
		return
	}
	if !ok {
		d.reply(ctx, log, ev, Text(msgNoImages))
		return
	}
	d.reply(ctx, log, ev, ImageBase64(payload))
}

// sendVideo answers a video recommendation request. Group requests go
// through the video limiter; private ones do not.
func (d *Dispatcher) sendVideo(ctx context.Context, log *slog.Logger, ev Event, rateLimited bool) {
	if rateLimited {
		if ok, reason := d.video.Allow(ev.Identity(), d.Now()); !ok {
			log.Info("video_denied", "reason", reason)
			d.reply(ctx, log, ev, Text(denialMessage(reason)))
			return
		}
	}
	if d.videos == nil {
		d.reply(ctx, log, ev, Text(msgNoVideo))
		return
	}
	v, err := d.videos.Random(ctx)
	if err != nil {
		log.Error("video_lookup_failed", "error", err)
		d.reply(ctx, log, ev, Text(msgNoVideo))
		return
	}
	d.reply(ctx, log, ev,
		Text(fmt.Sprintf("video: %s\n", v.Title)),
		ImageURL(v.CoverURL),
		Text("link: "+v.JumpURL),
	)
}

func (d *Dispatcher) handleAdminKeyword(ctx context.Context, log *slog.Logger, ev Event, keyword string) {
	if !d.auth.IsAdmin(ev.Identity()) {
		d.reply(ctx, log, ev, Text(msgAdminOnly))
		return
	}
	switch keyword {
	case keywordStatus:
		d.reply(ctx, log, ev, Text(d.statusReport()))
	case keywordCacheCleanup:
		chat := d.chat.Reset()
		video := d.video.Reset()
		log.Info("cache_cleanup", "chat_limiters", chat, "video_limiters", video)
		d.reply(ctx, log, ev, Text(fmt.Sprintf(
			"cache cleanup done:\n- cleared %d chat limiters\n- cleared %d video limiters", chat, video)))
	}
}

func (d *Dispatcher) statusReport() string {
	stored, err := d.images.Count()
	if err != nil {
		stored = -1
	}
	return fmt.Sprintf(
		"service status:\n- chat limiters: %d\n- video limiters: %d\n- active sessions: %d\n- stored images: %d",
		d.chat.ActiveUsers(), d.video.ActiveUsers(), d.sessions.Active(), stored)
}

func (d *Dispatcher) replyMediaKeyword(ctx context.Context, log *slog.Logger, ev Event, text string) bool {
	urls, ok := d.cfg.MediaKeywords[text]
	if !ok || len(urls) == 0 {
		return false
	}
	segments := make([]Segment, len(urls))
	for i, url := range urls {
		segments[i] = ImageURL(url)
	}
	d.reply(ctx, log, ev, segments...)
	return true
}

// reply sends segments back to where ev came from. Group replies are
// prefixed with a mention of the sender.
func (d *Dispatcher) reply(ctx context.Context, log *slog.Logger, ev Event, segments ...Segment) {
	var target Target
	if ev.IsGroup() {
		target = Target{GroupID: ev.GroupID}
		segments = append([]Segment{At(ev.UserID)}, segments...)
	} else {
		target = Target{UserID: ev.UserID}
	}
	if err := d.out.Send(ctx, target, segments); err != nil {
		log.Error("send_failed", "error", err)
	}
}

func denialMessage(reason ratelimit.Reason) string {
	if reason == ratelimit.ReasonBusy {
		return "the service is busy, please try again later"
	}
	return "too many requests, please try again later"
}
