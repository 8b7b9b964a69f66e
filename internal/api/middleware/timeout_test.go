package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestTimeout_Disabled(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		r := gin.New()
		r.Use(RequestTimeout(d))

		var hasDeadline bool
		r.GET("/accounts/x", func(c *gin.Context) {
			_, hasDeadline = c.Request.Context().Deadline()
			c.String(http.StatusOK, "ok")
		})

		w := serve(r, http.MethodGet, "/accounts/x", nil)
		if w.Code != http.StatusOK {
			t.Errorf("timeout %v: expected status 200, got %d", d, w.Code)
		}
		if hasDeadline {
			t.Errorf("timeout %v: expected no deadline on the request context", d)
		}
	}
}

func TestRequestTimeout_ContextHasDeadline(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(5 * time.Second))

	var hasDeadline bool
	r.GET("/accounts/x", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodGet, "/accounts/x", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !hasDeadline {
		t.Error("expected context to have deadline")
	}
}

func TestRequestTimeout_TimeoutTriggered(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(50 * time.Millisecond))
	r.GET("/accounts/x", func(c *gin.Context) {
		select {
		case <-time.After(200 * time.Millisecond):
			c.String(http.StatusOK, "ok")
		case <-c.Request.Context().Done():
			return
		}
	})

	w := serve(r, http.MethodGet, "/accounts/x", nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", w.Code)
	}
}

func TestRequestTimeout_WrittenResponseIsKept(t *testing.T) {
	r := gin.New()
	r.Use(RequestTimeout(50 * time.Millisecond))
	r.GET("/accounts/x", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
		time.Sleep(100 * time.Millisecond)
	})

	w := serve(r, http.MethodGet, "/accounts/x", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 (already written), got %d", w.Code)
	}
}
