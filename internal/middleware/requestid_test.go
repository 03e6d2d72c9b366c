package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// doRequestID runs one request through RequestIDMiddleware with an optional
// inbound X-Request-ID and returns the response header ID and the ID the
// handler observed in the context.
func doRequestID(inbound string) (headerID, contextID string) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		contextID = id.(string)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header().Get(RequestIDHeader), contextID
}

func TestRequestIDMiddleware_GeneratesUUIDWhenAbsent(t *testing.T) {
	headerID, contextID := doRequestID("")

	if headerID == "" {
		t.Fatal("expected X-Request-ID response header to be set")
	}
	if _, err := uuid.Parse(headerID); err != nil {
		t.Errorf("generated request ID %q is not a UUID: %v", headerID, err)
	}
	if contextID != headerID {
		t.Errorf("context ID %q does not match response header ID %q", contextID, headerID)
	}
}

func TestRequestIDMiddleware_PropagatesIncomingID(t *testing.T) {
	const upstreamID = "upstream-provided-request-id-001"

	headerID, contextID := doRequestID(upstreamID)

	if headerID != upstreamID {
		t.Errorf("response X-Request-ID = %q, want %q", headerID, upstreamID)
	}
	if contextID != upstreamID {
		t.Errorf("context request ID = %q, want %q", contextID, upstreamID)
	}
}

func TestRequestIDMiddleware_DifferentIDsPerRequest(t *testing.T) {
	ids := make(map[string]struct{}, 10)
	for i := range 10 {
		headerID, _ := doRequestID("")
		if _, seen := ids[headerID]; seen {
			t.Errorf("duplicate request ID %q on iteration %d", headerID, i)
		}
		ids[headerID] = struct{}{}
	}
}
