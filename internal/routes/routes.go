package routes

import (
	"github.com/gin-gonic/gin"

	"taskboard/internal/handlers"
	"taskboard/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	authHandler *handlers.AuthHandler,
	socketHandler *handlers.SocketHandler,
	integrationsHandler *handlers.IntegrationsHandler, // nil без Telegram-бота
	auth *middleware.Authenticator,
	publicDir string,
) *gin.Engine {

	// ---- public
	r.GET("/login", authHandler.LoginPage)
	r.POST("/login", authHandler.Login)
	r.POST("/logout", authHandler.Logout)

	// токен проверяется внутри, до апгрейда
	r.GET("/ws", socketHandler.Stream)

	// Telegram webhook публикуем только если есть интеграция
	if integrationsHandler != nil {
		r.POST("/integrations/telegram/webhook", integrationsHandler.Webhook)

		integr := r.Group("/integrations", auth.RequireAPI())
		{
			integr.POST("/telegram/request-link", integrationsHandler.RequestTelegramLink)
		}
	}

	// ---- protected pages
	r.GET("/", auth.RequirePage(), authHandler.Index)

	// остальное - статика без индекса
	r.NoRoute(handlers.StaticFiles(publicDir))

	return r
}
