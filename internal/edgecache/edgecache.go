// Package edgecache is a pull-through cache for GET responses that declare
// themselves publicly cacheable.
package edgecache

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HeaderCache reports whether a response came from the cache: "HIT" or "MISS".
const HeaderCache = "X-Cache"

type entry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Observer is told about every lookup. Satisfied by [metrics.Collector].
type Observer interface {
	ObserveCache(hit bool)
}

type noopObserver struct{}

func (noopObserver) ObserveCache(bool) {}

// Cache holds serialized responses keyed by host and request URI, query string included.
//
// There's no coordination on a miss: concurrent requests for a cold key each run the
// handler and the last one to finish is what's stored.
type Cache struct {
	entries  *lru.Cache[string, entry]
	observer Observer
	now      func() time.Time
}

// New creates a cache holding at most size responses. obs may be nil.
func New(size int, obs Observer) (*Cache, error) {
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = noopObserver{}
	}

	return &Cache{
		entries:  entries,
		observer: obs,
		now:      time.Now,
	}, nil
}

// Middleware serves GETs from the cache and stores any 200 whose Cache-Control is
// "public, max-age=N" for N seconds. Everything else passes straight through.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Host + r.URL.RequestURI()
		if e, ok := c.entries.Get(key); ok {
			if c.now().Before(e.expires) {
				c.observer.ObserveCache(true)
				for k, vs := range e.header {
					w.Header()[k] = append([]string(nil), vs...)
				}
				w.Header().Set(HeaderCache, "HIT")
				w.WriteHeader(e.status)
				w.Write(e.body)
				return
			}
			c.entries.Remove(key)
		}
		c.observer.ObserveCache(false)

		w.Header().Set(HeaderCache, "MISS")
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status != http.StatusOK {
			return
		}
		ttl, ok := publicMaxAge(rec.Header().Get("Cache-Control"))
		if !ok {
			return
		}

		header := rec.Header().Clone()
		header.Del(HeaderCache)
		c.entries.Add(key, entry{
			status:  rec.status,
			header:  header,
			body:    rec.body.Bytes(),
			expires: c.now().Add(ttl),
		})
		slog.DebugContext(r.Context(), "cached response", "key", key, "ttl", ttl)
	})
}

// publicMaxAge reads the TTL out of a "public, max-age=N" directive list.
func publicMaxAge(cc string) (time.Duration, bool) {
	var (
		public bool
		maxAge = -1
	)
	for _, d := range strings.Split(cc, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		switch {
		case d == "public":
			public = true
		case d == "private", d == "no-store", d == "no-cache":
			return 0, false
		case strings.HasPrefix(d, "max-age="):
			n, err := strconv.Atoi(strings.TrimPrefix(d, "max-age="))
			if err != nil {
				return 0, false
			}
			maxAge = n
		}
	}
	if !public || maxAge <= 0 {
		return 0, false
	}

	return time.Duration(maxAge) * time.Second, true
}

// recorder writes through to the client while keeping a copy of the response.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
