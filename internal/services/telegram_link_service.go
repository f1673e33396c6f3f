package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/golang/glog"

	"taskboard/internal/repositories"
	"taskboard/internal/utils"
)

const linkCodeTTL = 30 * time.Minute

var ErrInvalidLinkCode = errors.New("invalid or expired link code")

// TelegramLinkService attaches Telegram chats to people so offline
// notifications can reach them.
type TelegramLinkService struct {
	links repositories.TelegramLinkRepository
}

func NewTelegramLinkService(links repositories.TelegramLinkRepository) *TelegramLinkService {
	return &TelegramLinkService{links: links}
}

// RequestLink issues a one-time code the person sends to the bot.
func (s *TelegramLinkService) RequestLink(ctx context.Context, personID int64) (*repositories.TelegramLink, error) {
	code, err := utils.NewLinkCode(16)
	if err != nil {
		return nil, err
	}
	return s.links.Create(ctx, personID, code, linkCodeTTL)
}

// Redeem links chatID to the owner of the code found in text.
func (s *TelegramLinkService) Redeem(ctx context.Context, text string, chatID int64) (int64, error) {
	code, ok := normalizeLinkCode(text)
	if !ok {
		return 0, ErrInvalidLinkCode
	}
	link, err := s.links.Redeem(ctx, code, chatID)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, ErrInvalidLinkCode
	}
	if err != nil {
		return 0, err
	}
	glog.Infof("[tg] chat %d linked to person %d", chatID, link.PersonID)
	return link.PersonID, nil
}

// normalizeLinkCode tolerates quotes, spaces and lower case pasted around
// the code.
func normalizeLinkCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`“”«»<>.,;:()[]{}\\")
	s = strings.ToUpper(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Hex_Digit, r) {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != 32 {
		return "", false
	}
	return code, true
}
