package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery converts handler panics into the uniform error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		message := "An unexpected error occurred"
		if s, ok := recovered.(string); ok {
			message = s
		}
		abortError(c, http.StatusInternalServerError, CodeInternal, message)
	})
}
