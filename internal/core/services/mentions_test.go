package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

func mentionMembers(convID uuid.UUID) []domain.Member {
	return []domain.Member{
		{ConversationID: convID, UserID: "alice", DisplayName: "Alice"},
		{ConversationID: convID, UserID: "bob", DisplayName: "Bob Martin"},
		{ConversationID: convID, UserID: "chloe-42", DisplayName: "Chloé"},
	}
}

func TestExtractMentionsResolvesByNameAndID(t *testing.T) {
	req := require.New(t)
	convID := uuid.New()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "@bob and @Chloé, the deploy is ready",
	}

	mentions := ExtractMentions(msg, mentionMembers(convID))
	req.Len(mentions, 2)
	req.Equal("bob", mentions[0].UserID)
	req.Equal("chloe-42", mentions[1].UserID)
}

func TestExtractMentionsSkipsSelfAndDuplicates(t *testing.T) {
	req := require.New(t)
	convID := uuid.New()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "@alice talking to myself, @bob @bob twice",
	}

	mentions := ExtractMentions(msg, mentionMembers(convID))
	req.Len(mentions, 1)
	req.Equal("bob", mentions[0].UserID)
}

func TestExtractMentionsIgnoresUnknownNames(t *testing.T) {
	req := require.New(t)
	convID := uuid.New()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "@nobody here knows @stranger",
	}

	req.Empty(ExtractMentions(msg, mentionMembers(convID)))
}

func TestContentHashIsStable(t *testing.T) {
	req := require.New(t)
	req.Equal(ContentHash("hello"), ContentHash("hello"))
	req.NotEqual(ContentHash("hello"), ContentHash("hello "))
	req.Len(ContentHash(""), 64)
}

func TestDetectLanguageKnownSamples(t *testing.T) {
	req := require.New(t)

	// long unambiguous samples keep the detector reliable
	english := "The quick brown fox jumps over the lazy dog while everyone watches the garden."
	req.Equal("en", DetectLanguage(english))

	french := "Le renard brun rapide saute par-dessus le chien paresseux pendant que tout le monde regarde."
	req.Equal("fr", DetectLanguage(french))
}
