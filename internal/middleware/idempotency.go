package middleware

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/services/idempotency"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 255
)

// bodyCapture tees the response so it can be cached
type bodyCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware runs the rest of the chain at most once per
// Idempotency-Key within the calling service and route
func IdempotencyMiddleware(store *idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			utils.RespondError(c, apperror.BadRequest("Idempotency-Key header is required"))
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			utils.RespondError(c, apperror.BadRequest(fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLength)))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.RespondError(c, apperror.BadRequest("unable to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		serviceName := "anonymous"
		if identity, ok := CurrentService(c); ok {
			serviceName = identity.Name
		}
		scope := fmt.Sprintf("%s:%s:%s", serviceName, c.Request.Method, c.FullPath())

		rec, replayed, err := store.Do(c.Request.Context(), scope, key, utils.FingerprintJSON(body), func() idempotency.Record {
			capture := &bodyCapture{ResponseWriter: c.Writer}
			c.Writer = capture
			c.Next()
			return idempotency.Record{
				Status:      capture.Status(),
				Body:        capture.body.String(),
				ContentType: capture.Header().Get("Content-Type"),
			}
		})
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		if replayed {
			c.Header(HeaderReplayed, "true")
			contentType := rec.ContentType
			if contentType == "" {
				contentType = "application/json; charset=utf-8"
			}
			c.Data(rec.Status, contentType, []byte(rec.Body))
			c.Abort()
		}
	}
}
