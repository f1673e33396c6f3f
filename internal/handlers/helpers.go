package handlers

import (
	"github.com/gin-gonic/gin"

	"taskboard/internal/middleware"
	"taskboard/internal/models"
)

// personID reads the id set by the auth middleware.
func personID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.PersonIDKey)
	if !ok {
		return 0, false
	}
	return models.ToInt64(v)
}
