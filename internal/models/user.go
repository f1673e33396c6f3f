package models

// Person is an account that can connect, act on tasks and follow them.
type Person struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	PasswordHash   string `json:"-"` // не отдаём наружу
	TelegramChatID int64  `json:"-"`
}

type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}
