package cache

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// HTTPMiddleware caches successful GET responses under the key its
// KeyBuilder derives from each request.
type HTTPMiddleware struct {
	cache      *MultiLayerCache
	keyBuilder KeyBuilder
	ttl        time.Duration
}

// KeyBuilder generates cache keys from HTTP requests.
type KeyBuilder func(*http.Request) string

func NewHTTPMiddleware(cache *MultiLayerCache, ttl time.Duration, keyBuilder KeyBuilder) *HTTPMiddleware {
	if keyBuilder == nil {
		keyBuilder = DefaultKeyBuilder
	}
	return &HTTPMiddleware{cache: cache, keyBuilder: keyBuilder, ttl: ttl}
}

func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := m.keyBuilder(r)

		var cached CachedResponse
		if err := m.cache.Get(r.Context(), key, &cached); err == nil {
			m.writeCachedResponse(w, &cached)
			w.Header().Set("X-Cache", "HIT")
			return
		}

		w.Header().Set("X-Cache", "MISS")
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(recorder, r)

		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			cached := CachedResponse{
				StatusCode: recorder.statusCode,
				Headers:    recorder.Header().Clone(),
				Body:       recorder.body.Bytes(),
				CachedAt:   time.Now(),
			}
			_ = m.cache.Set(r.Context(), key, cached)
		}
	})
}

type CachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

func (m *HTTPMiddleware) writeCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("X-Cache-Date", cached.CachedAt.Format(time.RFC3339))
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// DefaultKeyBuilder generates cache keys from request method and URL.
func DefaultKeyBuilder(r *http.Request) string {
	return fmt.Sprintf("http:%s:%s", r.Method, r.URL.String())
}
