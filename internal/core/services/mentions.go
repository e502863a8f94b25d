package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// ExtractMentions scans content for @name tokens and resolves them against
// the member list by display name or user id, case-insensitively. Unresolved
// tokens are ignored; duplicates collapse to one mention per member.
func ExtractMentions(msg *domain.Message, members []domain.Member) []domain.Mention {
	matches := mentionPattern.FindAllStringSubmatch(msg.Content, -1)
	if len(matches) == 0 {
		return nil
	}

	byName := make(map[string]string, len(members))
	for _, m := range members {
		byName[strings.ToLower(m.UserID)] = m.UserID
		if m.DisplayName != "" {
			byName[strings.ToLower(m.DisplayName)] = m.UserID
		}
	}

	seen := make(map[string]struct{})
	var mentions []domain.Mention
	for _, match := range matches {
		userID, ok := byName[strings.ToLower(match[1])]
		if !ok {
			continue
		}
		if userID == msg.SenderID {
			continue // self-mentions carry no signal
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		mentions = append(mentions, domain.Mention{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			UserID:         userID,
			CreatedAt:      time.Now(),
		})
	}
	return mentions
}
