package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

// TokenService issues and validates the two credential kinds: registered
// user JWTs and share-link-scoped guest JWTs.
type TokenService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secretKey: []byte(secret),
		issuer:    "meeshy-orchestrator",
		ttl:       ttl,
	}
}

func (s *TokenService) GenerateUserToken(user domain.RegisteredUser) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"kind": string(domain.KindRegistered),
		"name": user.DisplayName,
		"lang": user.PreferredLanguage,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(s.ttl).Unix(),
		"iss":  s.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *TokenService) GenerateGuestToken(guest domain.AnonymousParticipant) (string, error) {
	claims := jwt.MapClaims{
		"sub":        guest.ID,
		"kind":       string(domain.KindAnonymous),
		"name":       guest.DisplayName,
		"lang":       guest.PreferredLanguage,
		"share_link": guest.ShareLinkID,
		"conv":       guest.ConversationID.String(),
		"perm_msg":   guest.Perms.CanSendMessages,
		"perm_file":  guest.Perms.CanSendFiles,
		"perm_img":   guest.Perms.CanSendImages,
		"perm_hist":  guest.Perms.CanViewHistory,
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(s.ttl).Unix(),
		"iss":        s.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Validate parses the JWT and reconstructs the caller identity from its
// claims. This is pipeline stage 1's classification input.
func (s *TokenService) Validate(tokenStr string) (domain.Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || !token.Valid {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	sub, _ := claims["sub"].(string)
	kind, _ := claims["kind"].(string)
	name, _ := claims["name"].(string)
	lang, _ := claims["lang"].(string)
	if sub == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	switch domain.IdentityKind(kind) {
	case domain.KindRegistered:
		return domain.Identity{
			Kind: domain.KindRegistered,
			User: &domain.RegisteredUser{
				ID:                sub,
				DisplayName:       name,
				PreferredLanguage: lang,
			},
		}, nil
	case domain.KindAnonymous:
		shareLink, _ := claims["share_link"].(string)
		convStr, _ := claims["conv"].(string)
		convID, err := uuid.Parse(convStr)
		if err != nil || shareLink == "" {
			return domain.Identity{}, domain.ErrUnauthenticated
		}
		boolClaim := func(key string) bool {
			v, _ := claims[key].(bool)
			return v
		}
		return domain.Identity{
			Kind: domain.KindAnonymous,
			Anonymous: &domain.AnonymousParticipant{
				ID:                sub,
				ShareLinkID:       shareLink,
				ConversationID:    convID,
				DisplayName:       name,
				PreferredLanguage: lang,
				Perms: domain.AnonymousPerms{
					CanSendMessages: boolClaim("perm_msg"),
					CanSendFiles:    boolClaim("perm_file"),
					CanSendImages:   boolClaim("perm_img"),
					CanViewHistory:  boolClaim("perm_hist"),
				},
			},
		}, nil
	}
	return domain.Identity{}, domain.ErrUnauthenticated
}
