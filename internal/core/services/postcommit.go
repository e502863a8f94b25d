package services

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// MessagePosted is published exactly once per successful persist (stage 4).
// Everything downstream of it is non-fatal by construction: handlers log
// their own failures and the sender never sees them.
type MessagePosted struct {
	Message      *domain.Message
	Conversation *domain.Conversation
	Members      []domain.Member
	Mentions     []domain.Mention
	Sender       domain.Identity
}

// PostCommitHandler consumes MessagePosted events independently of the
// request path.
type PostCommitHandler interface {
	Name() string
	Handle(ctx context.Context, ev MessagePosted) error
}

// PostCommitBus decouples the pipeline's fatal stages from its side
// effects. Publish never blocks the caller; if the buffer is full the event
// is dropped with a warning rather than stalling the dispatch loop.
type PostCommitBus struct {
	ch       chan MessagePosted
	handlers []PostCommitHandler
	log      *slog.Logger
}

func NewPostCommitBus(log *slog.Logger, buffer int, handlers ...PostCommitHandler) *PostCommitBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &PostCommitBus{
		ch:       make(chan MessagePosted, buffer),
		handlers: handlers,
		log:      log,
	}
}

func (b *PostCommitBus) Publish(ev MessagePosted) {
	select {
	case b.ch <- ev:
	default:
		b.log.Warn("postcommit - publish - buffer full, side effects dropped",
			logging.Message(ev.Message.ID.String()))
	}
}

func (b *PostCommitBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("postcommit - run - stopped")
			return nil
		case ev := <-b.ch:
			for _, h := range b.handlers {
				if err := h.Handle(ctx, ev); err != nil {
					b.log.ErrorContext(ctx, "postcommit - run - handler failed",
						slog.String("handler", h.Name()),
						logging.Message(ev.Message.ID.String()),
						logging.Err(err))
				}
			}
		}
	}
}

// MentionHandler writes the mention records extracted at validate time.
type MentionHandler struct {
	Mentions domain.MentionRepository
}

func (h *MentionHandler) Name() string { return "mentions" }

func (h *MentionHandler) Handle(ctx context.Context, ev MessagePosted) error {
	if len(ev.Mentions) == 0 {
		return nil
	}
	return h.Mentions.CreateAll(ctx, ev.Mentions)
}

// TranslationHandler hands the message to the coordinator for every
// distinct preferred language among room members.
type TranslationHandler struct {
	Coordinator *Coordinator
}

func (h *TranslationHandler) Name() string { return "translation" }

func (h *TranslationHandler) Handle(ctx context.Context, ev MessagePosted) error {
	targets := TargetLanguages(ev.Message.OriginalLanguage, ev.Members)
	h.Coordinator.Enqueue(ctx, ev.Message, targets)
	return nil
}

// TargetLanguages dedups member preferences and drops the source language.
func TargetLanguages(source string, members []domain.Member) []string {
	langs := lo.FilterMap(members, func(m domain.Member, _ int) (string, bool) {
		return m.PreferredLanguage, m.PreferredLanguage != "" && m.PreferredLanguage != source
	})
	return lo.Uniq(langs)
}

// NotificationHandler dispatches to mentioned users and members with no
// live session.
type NotificationHandler struct {
	Notifier contracts.Notifier
	Registry contracts.Registry
}

func (h *NotificationHandler) Name() string { return "notifications" }

func (h *NotificationHandler) Handle(ctx context.Context, ev MessagePosted) error {
	mentioned := lo.Map(ev.Mentions, func(m domain.Mention, _ int) string { return m.UserID })
	offline := lo.FilterMap(ev.Members, func(m domain.Member, _ int) (string, bool) {
		if m.UserID == ev.Message.SenderID {
			return "", false
		}
		return m.UserID, !h.Registry.IdentityOnline(m.UserID)
	})

	preview := truncateRunes(ev.Message.Content, 140)
	base := contracts.Notification{
		ConversationID: ev.Message.ConversationID.String(),
		MessageID:      ev.Message.ID.String(),
		SenderName:     ev.Sender.DisplayName(),
		Preview:        preview,
	}

	if len(mentioned) > 0 {
		n := base
		n.Recipients = mentioned
		n.Reason = "mention"
		if err := h.Notifier.Dispatch(ctx, n); err != nil {
			return err
		}
	}
	// Mentioned users already got the stronger notification.
	offline = lo.Without(offline, mentioned...)
	if len(offline) > 0 {
		n := base
		n.Recipients = offline
		n.Reason = "offline"
		return h.Notifier.Dispatch(ctx, n)
	}
	return nil
}

// truncateRunes cuts s to at most max runes, never splitting a multi-byte
// character.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// StatsHandler bumps the idempotent conversation counters, retrying once
// since the update is safe to repeat.
type StatsHandler struct {
	Conversations domain.ConversationRepository
}

func (h *StatsHandler) Name() string { return "stats" }

func (h *StatsHandler) Handle(ctx context.Context, ev MessagePosted) error {
	err := h.Conversations.BumpStats(ctx, ev.Message.ConversationID, ev.Message.Seq, ev.Message.CreatedAt)
	if err == nil {
		return nil
	}
	return h.Conversations.BumpStats(ctx, ev.Message.ConversationID, ev.Message.Seq, ev.Message.CreatedAt)
}
