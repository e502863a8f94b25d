package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/platform/metrics"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

var pipeTracer = otel.Tracer("message-pipeline")

// Pipeline runs inbound messages through the ordered stages: authentication,
// validation, permission, persistence, then broadcast and post-commit side
// effects. The first four stages are fatal and abort the message; everything
// after the commit is non-fatal and rides the post-commit bus.
type Pipeline struct {
	messages     domain.MessageRepository
	convs        domain.ConversationRepository
	members      domain.MemberRepository
	translations domain.TranslationRepository
	tx           contracts.TxManager
	registry     contracts.Registry
	rooms        *RoomService
	bus          *PostCommitBus
	coordinator  *Coordinator

	validate       *validator.Validate
	clock          clock.Clock
	metrics        *metrics.Metrics
	maxLength      int
	persistTimeout time.Duration
	log            *slog.Logger
}

// SendResult is the sender-facing outcome of a successful send. Mention
// count is computed synchronously; the mention rows themselves are written
// by the post-commit handler.
type SendResult struct {
	Message           *domain.Message
	MentionCount      int
	TranslationQueued bool
}

// HistoryItem pairs a message with its stored translations, keyed by target
// language.
type HistoryItem struct {
	Message      domain.MessageView `json:"message"`
	Translations map[string]string  `json:"translations,omitempty"`
}

func NewPipeline(
	log *slog.Logger,
	messages domain.MessageRepository,
	convs domain.ConversationRepository,
	members domain.MemberRepository,
	translations domain.TranslationRepository,
	tx contracts.TxManager,
	registry contracts.Registry,
	rooms *RoomService,
	bus *PostCommitBus,
	coordinator *Coordinator,
	clk clock.Clock,
	m *metrics.Metrics,
	maxLength int,
	persistTimeout time.Duration,
) *Pipeline {
	if maxLength <= 0 {
		maxLength = 2000
	}
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Pipeline{
		messages:       messages,
		convs:          convs,
		members:        members,
		translations:   translations,
		tx:             tx,
		registry:       registry,
		rooms:          rooms,
		bus:            bus,
		coordinator:    coordinator,
		validate:       validator.New(),
		clock:          clk,
		metrics:        m,
		maxLength:      maxLength,
		persistTimeout: persistTimeout,
		log:            log,
	}
}

// Send runs the full pipeline for a new message. On any fatal-stage error
// nothing is persisted and nothing is broadcast; the caller turns the error
// into a failed ack or an HTTP status.
func (p *Pipeline) Send(ctx context.Context, sess *domain.ConnectionSession, frame *domain.SendFrame) (*SendResult, error) {
	ctx, span := pipeTracer.Start(ctx, "Pipeline.Send", trace.WithAttributes(
		attribute.String("conv_id", frame.ConversationID),
	))
	defer span.End()

	// stage 1: authentication
	if !sess.Identity.Valid() {
		return nil, p.reject(ctx, span, domain.ErrUnauthenticated)
	}

	// stage 2: validation
	mtype, err := p.validateSend(frame)
	if err != nil {
		return nil, p.reject(ctx, span, err)
	}
	convID, err := domain.ParseUUID(frame.ConversationID)
	if err != nil {
		return nil, p.reject(ctx, span, err)
	}
	var replyTo *uuid.UUID
	if frame.ReplyToID != "" {
		rid, err := domain.ParseUUID(frame.ReplyToID)
		if err != nil {
			return nil, p.reject(ctx, span, err)
		}
		replyTo = &rid
	}

	// stage 3: permission
	conv, err := p.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, p.reject(ctx, span, err)
	}
	if err := p.checkSendPermission(ctx, sess.Identity, conv, mtype); err != nil {
		return nil, p.reject(ctx, span, err)
	}

	// stage 4: persist, with the sequence assigned inside the transaction
	lang := frame.OriginalLanguage
	if lang == "" && mtype == domain.MessageText {
		lang = DetectLanguage(frame.Content)
	}
	msg := &domain.Message{
		ID:               uuid.New(),
		ConversationID:   convID,
		SenderID:         sess.Identity.ID(),
		SenderKind:       sess.Identity.Kind,
		Content:          frame.Content,
		OriginalLanguage: lang,
		Type:             mtype,
		ReplyToID:        replyTo,
		CreatedAt:        p.clock.Now().UTC(),
	}
	if err := p.persist(ctx, msg); err != nil {
		return nil, p.reject(ctx, span, err)
	}
	p.metrics.IncMessagesPersisted()
	span.SetAttributes(attribute.Int64("seq", msg.Seq))

	// the commit point: everything past here is non-fatal
	members := p.listMembers(ctx, convID)
	mentions := ExtractMentions(msg, members)

	p.registry.EmitExcept(ctx, convID.String(), sess.ID, domain.MessageEvent{
		Kind:    domain.KindMessageNew,
		Message: domain.NewMessageView(msg),
	})
	p.bus.Publish(MessagePosted{
		Message:      msg,
		Conversation: conv,
		Members:      members,
		Mentions:     mentions,
		Sender:       sess.Identity,
	})

	p.log.InfoContext(ctx, "pipeline - send - message committed",
		logging.Message(msg.ID.String()),
		logging.Conversation(convID.String()),
		logging.Sequence(msg.Seq),
		logging.Language(lang))

	return &SendResult{
		Message:           msg,
		MentionCount:      len(mentions),
		TranslationQueued: lang != "" && len(TargetLanguages(lang, members)) > 0,
	}, nil
}

// Edit replaces a message's content. Only the sender or a moderator may
// edit, and translations are re-queued only when the content actually
// changed.
func (p *Pipeline) Edit(ctx context.Context, sess *domain.ConnectionSession, frame *domain.EditFrame) (*domain.Message, error) {
	ctx, span := pipeTracer.Start(ctx, "Pipeline.Edit", trace.WithAttributes(
		attribute.String("message_id", frame.MessageID),
	))
	defer span.End()

	if !sess.Identity.Valid() {
		return nil, p.reject(ctx, span, domain.ErrUnauthenticated)
	}
	if err := p.validate.Struct(frame); err != nil {
		return nil, p.reject(ctx, span, fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}
	if frame.Content == "" {
		return nil, p.reject(ctx, span, fmt.Errorf("%w: edited content must not be empty", domain.ErrValidation))
	}
	if utf8.RuneCountInString(frame.Content) > p.maxLength {
		return nil, p.reject(ctx, span, fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, p.maxLength))
	}

	msg, err := p.loadForModeration(ctx, sess.Identity, frame.MessageID)
	if err != nil {
		return nil, p.reject(ctx, span, err)
	}

	if ContentHash(frame.Content) == ContentHash(msg.Content) {
		return msg, nil // nothing changed, no broadcast, no re-translation
	}

	lang := DetectLanguage(frame.Content)
	if lang == "" {
		lang = msg.OriginalLanguage
	}
	editedAt := p.clock.Now().UTC()
	if err := p.messages.UpdateContent(ctx, msg.ID, frame.Content, lang, editedAt); err != nil {
		return nil, p.reject(ctx, span, err)
	}
	msg.Content = frame.Content
	msg.OriginalLanguage = lang
	msg.EditedAt = &editedAt

	p.registry.Emit(ctx, msg.ConversationID.String(), domain.MessageEvent{
		Kind:    domain.KindMessageUpdated,
		Message: domain.NewMessageView(msg),
	})
	if lang != "" {
		members := p.listMembers(ctx, msg.ConversationID)
		p.coordinator.Enqueue(ctx, msg, TargetLanguages(lang, members))
	}

	p.log.InfoContext(ctx, "pipeline - edit - message updated",
		logging.Message(msg.ID.String()), logging.Conversation(msg.ConversationID.String()))
	return msg, nil
}

// Delete soft-deletes a message. Deleting an already deleted message is an
// idempotent success.
func (p *Pipeline) Delete(ctx context.Context, sess *domain.ConnectionSession, frame *domain.DeleteFrame) error {
	ctx, span := pipeTracer.Start(ctx, "Pipeline.Delete", trace.WithAttributes(
		attribute.String("message_id", frame.MessageID),
	))
	defer span.End()

	if !sess.Identity.Valid() {
		return p.reject(ctx, span, domain.ErrUnauthenticated)
	}
	if err := p.validate.Struct(frame); err != nil {
		return p.reject(ctx, span, fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}

	mid, err := domain.ParseUUID(frame.MessageID)
	if err != nil {
		return p.reject(ctx, span, err)
	}
	msg, err := p.messages.GetByID(ctx, mid)
	if err != nil {
		return p.reject(ctx, span, err)
	}
	if msg.Deleted() {
		return nil
	}
	if err := p.checkModeration(ctx, sess.Identity, msg); err != nil {
		return p.reject(ctx, span, err)
	}

	if err := p.messages.SoftDelete(ctx, mid, p.clock.Now().UTC()); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil // raced with another delete
		}
		return p.reject(ctx, span, err)
	}
	p.registry.Emit(ctx, msg.ConversationID.String(), domain.MessageDeletedEvent{
		Kind:           domain.KindMessageDeleted,
		ConversationID: msg.ConversationID.String(),
		MessageID:      mid.String(),
	})
	p.log.InfoContext(ctx, "pipeline - delete - message removed",
		logging.Message(mid.String()), logging.Conversation(msg.ConversationID.String()))
	return nil
}

// History pages backwards through a conversation, newest first, attaching
// stored translations. Soft-deleted messages are filtered out before they
// leave the server.
func (p *Pipeline) History(ctx context.Context, identity domain.Identity, convIDStr string, beforeSeq int64, limit int) ([]HistoryItem, error) {
	ctx, span := pipeTracer.Start(ctx, "Pipeline.History", trace.WithAttributes(
		attribute.String("conv_id", convIDStr),
	))
	defer span.End()

	if !identity.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	convID, err := domain.ParseUUID(convIDStr)
	if err != nil {
		return nil, err
	}
	conv, err := p.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if _, err := p.rooms.ResolveRole(ctx, identity, conv); err != nil {
		return nil, err
	}
	if identity.Kind == domain.KindAnonymous && !identity.Anonymous.Perms.CanViewHistory {
		return nil, domain.ErrPermissionDenied
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	msgs, err := p.messages.ListBefore(ctx, convID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	visible := lo.Filter(msgs, func(m domain.Message, _ int) bool { return !m.Deleted() })
	ids := lo.Map(visible, func(m domain.Message, _ int) uuid.UUID { return m.ID })

	byMessage := map[uuid.UUID]map[string]string{}
	if len(ids) > 0 {
		stored, err := p.translations.ListForMessages(ctx, ids)
		if err != nil {
			p.log.WarnContext(ctx, "pipeline - history - translation lookup failed",
				logging.Conversation(convIDStr), logging.Err(err))
		} else {
			for _, t := range stored {
				if byMessage[t.MessageID] == nil {
					byMessage[t.MessageID] = map[string]string{}
				}
				byMessage[t.MessageID][t.TargetLanguage] = t.Text
			}
		}
	}

	items := make([]HistoryItem, 0, len(visible))
	for i := range visible {
		items = append(items, HistoryItem{
			Message:      domain.NewMessageView(&visible[i]),
			Translations: byMessage[visible[i].ID],
		})
	}
	return items, nil
}

func (p *Pipeline) validateSend(frame *domain.SendFrame) (domain.MessageType, error) {
	if err := p.validate.Struct(frame); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	mtype := domain.MessageType(frame.Type)
	if mtype == "" {
		mtype = domain.MessageText
	}
	if !domain.KnownMessageType(mtype) {
		return "", fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, frame.Type)
	}
	if frame.Content == "" && mtype == domain.MessageText {
		return "", fmt.Errorf("%w: text messages must have content", domain.ErrValidation)
	}
	if utf8.RuneCountInString(frame.Content) > p.maxLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, p.maxLength)
	}
	return mtype, nil
}

func (p *Pipeline) checkSendPermission(ctx context.Context, identity domain.Identity, conv *domain.Conversation, mtype domain.MessageType) error {
	role, err := p.rooms.ResolveRole(ctx, identity, conv)
	if err != nil {
		return err
	}
	if identity.Kind == domain.KindAnonymous {
		perms := identity.Anonymous.Perms
		switch {
		case !perms.CanSendMessages:
			return domain.ErrPermissionDenied
		case mtype == domain.MessageFile && !perms.CanSendFiles:
			return domain.ErrPermissionDenied
		case mtype == domain.MessageImage && !perms.CanSendImages:
			return domain.ErrPermissionDenied
		}
		return nil
	}
	// Visibility never lowers the write floor: a public room can still
	// restrict who posts.
	minWrite := conv.MinWriteRole
	if minWrite == "" {
		minWrite = domain.RoleMember
	}
	if role.Rank() < minWrite.Rank() {
		return domain.ErrPermissionDenied
	}
	return nil
}

// persist wraps the sequence bump and the insert in one transaction under
// its own deadline so a stalled database cannot pin the connection's read
// loop.
func (p *Pipeline) persist(ctx context.Context, msg *domain.Message) error {
	pctx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()
	err := p.tx.WithTx(pctx, func(txCtx context.Context) error {
		seq, err := p.messages.SaveWithSequence(txCtx, msg)
		if err != nil {
			return err
		}
		msg.Seq = seq
		return nil
	})
	if err != nil {
		p.log.ErrorContext(ctx, "pipeline - persist - transaction failed",
			logging.Conversation(msg.ConversationID.String()), logging.Err(err))
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (p *Pipeline) loadForModeration(ctx context.Context, identity domain.Identity, messageID string) (*domain.Message, error) {
	mid, err := domain.ParseUUID(messageID)
	if err != nil {
		return nil, err
	}
	msg, err := p.messages.GetByID(ctx, mid)
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return nil, domain.ErrMessageDeleted
	}
	if err := p.checkModeration(ctx, identity, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// checkModeration allows the original sender, or any member whose role can
// moderate. Anonymous participants can only ever touch their own messages.
func (p *Pipeline) checkModeration(ctx context.Context, identity domain.Identity, msg *domain.Message) error {
	if msg.SenderID == identity.ID() {
		return nil
	}
	if identity.Kind != domain.KindRegistered {
		return domain.ErrPermissionDenied
	}
	member, err := p.members.GetMember(ctx, msg.ConversationID, identity.User.ID)
	if err != nil {
		return domain.ErrPermissionDenied
	}
	if !member.Role.CanModerate() {
		return domain.ErrPermissionDenied
	}
	return nil
}

func (p *Pipeline) listMembers(ctx context.Context, convID uuid.UUID) []domain.Member {
	members, err := p.members.ListMembers(ctx, convID)
	if err != nil {
		p.log.WarnContext(ctx, "pipeline - members - listing failed",
			logging.Conversation(convID.String()), logging.Err(err))
		return nil
	}
	return members
}

func (p *Pipeline) reject(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	p.metrics.IncRejection(domain.ErrorCode(err))
	p.log.WarnContext(ctx, "pipeline - stage rejected", logging.Err(err))
	return err
}
