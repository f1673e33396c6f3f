package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthenticatorSources(t *testing.T) {
	a := NewAuthenticator("s3cret", "token", time.Hour)
	tok, err := a.IssueToken(42)
	require.NoError(t, err)

	header := httptest.NewRequest(http.MethodGet, "/ws", nil)
	header.Header.Set("Authorization", "Bearer "+tok)

	cookie := httptest.NewRequest(http.MethodGet, "/ws", nil)
	cookie.AddCookie(&http.Cookie{Name: "token", Value: tok})

	query := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)

	for name, r := range map[string]*http.Request{"header": header, "cookie": cookie, "query": query} {
		id, err := a.Authenticate(r)
		require.NoError(t, err, name)
		assert.Equal(t, int64(42), id, name)
	}
}

func TestAuthenticatorRejects(t *testing.T) {
	a := NewAuthenticator("s3cret", "token", time.Hour)

	_, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other := NewAuthenticator("different", "token", time.Hour)
	tok, err := other.IssueToken(1)
	require.NoError(t, err)
	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/?token="+tok, nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired := NewAuthenticator("s3cret", "token", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	tok, err = expired.IssueToken(1)
	require.NoError(t, err)
	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/?token="+tok, nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRequirePageRedirects(t *testing.T) {
	a := NewAuthenticator("s3cret", "token", time.Hour)
	r := gin.New()
	r.GET("/", a.RequirePage(), func(c *gin.Context) {
		c.String(http.StatusOK, "person %d", c.GetInt64(PersonIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	tok, _ := a.IssueToken(5)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: tok})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "person 5", w.Body.String())
}

func TestErrorResponderNegotiates(t *testing.T) {
	r := gin.New()
	r.Use(ErrorResponder())
	r.GET("/panic", func(c *gin.Context) { panic("boom <b>") })
	r.GET("/err", func(c *gin.Context) { _ = c.Error(errors.New("db down")) })

	cases := []struct {
		path, accept, contentType, body string
	}{
		{"/panic", "application/json", "application/json", `{"message":"boom <b>","code":500}`},
		{"/err", "", "application/json", `{"message":"db down","code":500}`},
		{"/panic", "text/html", "text/html", "<p>boom &lt;b&gt;</p>"},
		{"/err", "text/plain", "text/plain", "db down"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.accept != "" {
			req.Header.Set("Accept", tc.accept)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code, tc.path)
		assert.Contains(t, w.Header().Get("Content-Type"), tc.contentType)
		if tc.contentType == "application/json" {
			assert.JSONEq(t, tc.body, w.Body.String())
		} else {
			assert.Equal(t, tc.body, w.Body.String())
		}
	}
}
