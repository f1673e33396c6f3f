package middleware

import (
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
)

// ErrorResponder turns panics and errors attached with c.Error into a 500
// with {message, code}, shaped by the Accept header. Stack traces stay in
// the log.
func ErrorResponder() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				glog.Errorf("[http] panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, rec)
				respondError(c, fmt.Errorf("%v", rec))
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			glog.Errorf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			respondError(c, err)
		}
	}
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondError(c *gin.Context, err error) {
	body := errorBody{Message: err.Error(), Code: http.StatusInternalServerError}

	switch c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML, gin.MIMEPlain) {
	case gin.MIMEHTML:
		c.Data(body.Code, "text/html; charset=utf-8",
			[]byte(fmt.Sprintf("<p>%s</p>", html.EscapeString(body.Message))))
	case gin.MIMEPlain:
		c.String(body.Code, body.Message)
	default:
		c.JSON(body.Code, body)
	}
	c.Abort()
}
