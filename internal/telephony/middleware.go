package telephony

import (
	"net/http"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireSignature gates a webhook route on the carrier signature. It must
// run before any handler that trusts the request origin; on failure the
// request is aborted 403 with no body processing beyond the form parse the
// signature itself requires.
//
// publicBaseURL reconstructs the absolute URL the carrier signed, since the
// request as seen behind a proxy carries only the path.
func RequireSignature(v SignatureValidator, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		fullURL := publicBaseURL + c.Request.URL.RequestURI()
		sig := c.GetHeader(SignatureHeader)
		if !v.Valid(fullURL, c.Request.PostForm, sig) {
			logger.FromGin(c).Warn("webhook signature rejected",
				"path", c.Request.URL.Path,
				"has_signature", sig != "",
			)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
