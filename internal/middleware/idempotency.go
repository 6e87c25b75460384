package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridepool/internal/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	// idempotencyLease bounds how long a crashed request blocks its key.
	idempotencyLease = time.Minute
)

// ErrRequestInFlight is returned when a request with the same idempotency key
// has not finished yet.
var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

// ResponseStore persists responses of idempotent requests.
type ResponseStore interface {
	Begin(ctx context.Context, key string, lease time.Duration) (*redis.StoredResponse, bool, error)
	Complete(ctx context.Context, key string, resp *redis.StoredResponse) error
	Abandon(ctx context.Context, key string) error
}

var _ ResponseStore = (*redis.IdempotencyStore)(nil)

// recorder captures the body written by the handler.
type recorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *recorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a mutating request retried with
// the same Idempotency-Key, and rejects a retry that arrives while the first
// attempt is still running. Keys are scoped to the caller, method and path.
// Server errors are not stored, so the client may retry them. A nil store
// disables the middleware.
func Idempotency(store ResponseStore, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if store == nil || key == "" || !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		scoped := c.GetString(ContextUserID) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		ctx := c.Request.Context()

		stored, claimed, err := store.Begin(ctx, scoped, idempotencyLease)
		switch {
		case err != nil:
			logger.Warn("idempotency store unavailable, serving without replay", "error", err)
			c.Next()
			return
		case stored != nil:
			replay(c, stored)
			return
		case !claimed:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": ErrRequestInFlight.Error()})
			return
		}

		w := &recorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		// The client may be gone; the outcome must still be recorded.
		ctx = context.WithoutCancel(ctx)
		status := w.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Abandon(ctx, scoped); err != nil {
				logger.Warn("failed to release idempotency key", "error", err)
			}
			return
		}
		resp := &redis.StoredResponse{
			StatusCode:  status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Complete(ctx, scoped, resp); err != nil {
			logger.Warn("failed to store idempotent response", "error", err)
		}
	}
}

func replay(c *gin.Context, r *redis.StoredResponse) {
	contentType := r.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header(replayedHeader, "true")
	c.Data(r.StatusCode, contentType, r.Body)
	c.Abort()
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
