package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const PersonIDKey = "person_id"

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	PersonID int64 `json:"person_id"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks the session token. The token is read from
// the Authorization header, the session cookie or the `token` query
// parameter (browsers can't set headers on a WebSocket upgrade).
type Authenticator struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	now        func() time.Time
}

func NewAuthenticator(secret, cookieName string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		cookieName: cookieName,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (a *Authenticator) CookieName() string { return a.cookieName }

func (a *Authenticator) TTL() time.Duration { return a.ttl }

func (a *Authenticator) IssueToken(personID int64) (string, error) {
	now := a.now()
	claims := &Claims{
		PersonID: personID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate returns the person id carried by the request's token.
func (a *Authenticator) Authenticate(r *http.Request) (int64, error) {
	tokenStr := tokenFromRequest(r, a.cookieName)
	if tokenStr == "" {
		return 0, ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// принимаем только HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithLeeway(2*time.Minute), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.PersonID == 0 {
		return 0, ErrUnauthenticated
	}
	return claims.PersonID, nil
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequirePage guards HTML pages: unauthenticated visitors go to /login.
func (a *Authenticator) RequirePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		personID, err := a.Authenticate(c.Request)
		if err != nil {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Set(PersonIDKey, personID)
		c.Next()
	}
}

// RequireAPI guards JSON endpoints.
func (a *Authenticator) RequireAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		// пропускаем preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		personID, err := a.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}
		c.Set(PersonIDKey, personID)
		c.Next()
	}
}
