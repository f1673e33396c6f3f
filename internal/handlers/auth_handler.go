package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"taskboard/internal/models"
	"taskboard/internal/services"
)

type AuthHandler struct {
	auth       *services.AuthService
	cookieName string
	ttl        time.Duration
	publicDir  string
}

func NewAuthHandler(auth *services.AuthService, cookieName string, ttl time.Duration, publicDir string) *AuthHandler {
	return &AuthHandler{auth: auth, cookieName: cookieName, ttl: ttl, publicDir: publicDir}
}

// LoginPage отдаёт форму входа.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	c.File(filepath.Join(h.publicDir, "login.html"))
}

// Login принимает JSON или обычную форму. Токен кладётся в HTTP-only cookie;
// JSON-клиенты получают его ещё и в теле ответа.
// @Summary      Вход в систему
// @Description  Проверяет пароль, ставит cookie с токеном сессии
// @Tags         Auth
// @Accept       json,x-www-form-urlencoded
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Данные для входа"
// @Success      200    {object}  map[string]interface{}
// @Success      303    "редирект на / для формы"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]interface{}
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()

	var req models.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		glog.Infof("[auth][login] bad request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, person, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		_ = c.Error(err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(h.ttl.Seconds()), "/", "", c.Request.TLS != nil, true)
	glog.Infof("[auth][login] person %d signed in in %s", person.ID, time.Since(start))

	if isFormPost(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "person": person})
}

// Logout стирает cookie сессии.
// @Summary      Выход
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Success      303  "редирект на /login для формы"
// @Router       /logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	if isFormPost(c) {
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Index serves the app shell; RequirePage runs first.
func (h *AuthHandler) Index(c *gin.Context) {
	if id, ok := personID(c); ok {
		glog.V(2).Infof("[auth] app shell for person %d", id)
	}
	c.File(filepath.Join(h.publicDir, "index.html"))
}

func isFormPost(c *gin.Context) bool {
	ct := c.ContentType()
	return strings.HasPrefix(ct, gin.MIMEPOSTForm) || strings.HasPrefix(ct, gin.MIMEMultipartPOSTForm)
}
