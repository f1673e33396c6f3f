package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"taskboard/internal/services"
)

type IntegrationsHandler struct {
	TG    services.TelegramSender
	Links *services.TelegramLinkService
}

func NewIntegrationsHandler(tg services.TelegramSender, links *services.TelegramLinkService) *IntegrationsHandler {
	return &IntegrationsHandler{TG: tg, Links: links}
}

type tgUpdate struct {
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// Webhook receives bot updates. Telegram retries anything but 200, so
// every update is acknowledged.
// @Summary      Telegram webhook
// @Description  Команды бота: /start, /link <code>
// @Tags         Integrations
// @Accept       json
// @Success      200
// @Router       /integrations/telegram/webhook [post]
func (h *IntegrationsHandler) Webhook(c *gin.Context) {
	var up tgUpdate
	if err := c.ShouldBindJSON(&up); err != nil || up.Message == nil {
		if err != nil {
			glog.Warningf("[tg][webhook] bind json: %v", err)
		}
		c.Status(http.StatusOK)
		return
	}

	text := strings.TrimSpace(up.Message.Text)
	chatID := up.Message.Chat.ID
	glog.V(1).Infof("[tg][webhook] chat %d: %q", chatID, text)

	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(chatID, "Hi! To receive task notifications here, send:\n/link <code>\nGet the code from your account page.")

	case strings.HasPrefix(text, "/link"):
		raw := strings.TrimSpace(strings.TrimPrefix(text, "/link"))
		_, err := h.Links.Redeem(c.Request.Context(), raw, chatID)
		switch {
		case errors.Is(err, services.ErrInvalidLinkCode):
			h.reply(chatID, "The code is invalid or expired. Request a new one and send exactly 32 hex characters.")
		case err != nil:
			glog.Errorf("[tg][webhook] redeem for chat %d: %v", chatID, err)
			h.reply(chatID, "Could not link your account, please try again later.")
		default:
			h.reply(chatID, "Done! You will get notifications about the tasks you follow.")
		}

	default:
		h.reply(chatID, "Unknown command. Use /link <code>.")
	}

	c.Status(http.StatusOK)
}

func (h *IntegrationsHandler) reply(chatID int64, text string) {
	if err := h.TG.SendMessage(chatID, text); err != nil {
		glog.Warningf("[tg][webhook] reply to chat %d: %v", chatID, err)
	}
}

// RequestTelegramLink issues a link code for the signed-in person.
// @Summary      Код привязки Telegram
// @Description  Одноразовый код на 30 минут, отправляется боту командой /link
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]interface{}
// @Router       /integrations/telegram/request-link [post]
func (h *IntegrationsHandler) RequestTelegramLink(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	link, err := h.Links.RequestLink(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       link.Code,
		"expires_at": link.ExpiresAt,
		"hint":       "Send this to the bot: /link " + link.Code,
	})
}
