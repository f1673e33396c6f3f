package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// StaticFiles serves public assets without authentication. Directory
// indexes are never served, so the app shell is only reachable through the
// authenticated "/" route.
func StaticFiles(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		name := path.Clean("/" + c.Request.URL.Path)
		if strings.HasSuffix(c.Request.URL.Path, "/") || path.Base(name) == "index.html" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		full := filepath.Join(dir, filepath.FromSlash(name))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.File(full)
	}
}
