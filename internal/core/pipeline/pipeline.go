// Package pipeline drives a single request through admission, validation,
// the content cache and the resolver, then writes the response.
package pipeline

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tollgate/tollgate/internal/core/admission"
	"github.com/tollgate/tollgate/internal/core/cache"
	"github.com/tollgate/tollgate/internal/core/resolver"
	apperrors "github.com/tollgate/tollgate/internal/errors"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/server/middleware"
)

// DefaultUploadPath is the request path that accepts multipart uploads.
const DefaultUploadPath = "/upload"

// Handler is the set of request capabilities the router dispatches to.
type Handler interface {
	// HandleGet serves GET and HEAD requests.
	HandleGet(w http.ResponseWriter, r *http.Request)
	// HandlePost serves uploads and echoes other POST bodies.
	HandlePost(w http.ResponseWriter, r *http.Request)
	// HandleUnsupported answers every other method with 405.
	HandleUnsupported(w http.ResponseWriter, r *http.Request)
}

// Config holds the request limits the pipeline enforces.
type Config struct {
	MaxURLLength   int
	ThresholdBytes int64
	MaxEntryBytes  int64
	MaxUploadBytes int64
	UploadPath     string
}

// Clock returns the current time.
type Clock func() time.Time

// Keyer maps a normalized path to its cache key.
type Keyer func(path string) cache.Key

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for admission decisions.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithKeyer overrides the cache key function.
func WithKeyer(keyer Keyer) Option {
	return func(p *Pipeline) {
		if keyer != nil {
			p.keyer = keyer
		}
	}
}

// WithClientID overrides how the client identity is derived from a request.
func WithClientID(fn func(*http.Request) string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.clientID = fn
		}
	}
}

// Pipeline implements Handler. The admission controller and cache store are
// shared; the pipeline itself keeps no per-request state.
type Pipeline struct {
	cfg       Config
	admission *admission.Controller
	cache     *cache.Store
	files     *resolver.Resolver

	now      Clock
	keyer    Keyer
	clientID func(*http.Request) string

	loads singleflight.Group
}

var _ Handler = (*Pipeline)(nil)

// New wires a pipeline around the shared admission controller, cache store
// and resolver.
func New(cfg Config, ctrl *admission.Controller, store *cache.Store, files *resolver.Resolver, opts ...Option) *Pipeline {
	if cfg.UploadPath == "" {
		cfg.UploadPath = DefaultUploadPath
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = math.MaxInt64
	}

	p := &Pipeline{
		cfg:       cfg,
		admission: ctrl,
		cache:     store,
		files:     files,
		now:       time.Now,
		keyer:     cache.Fingerprint,
		clientID:  ClientAddress,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClientAddress identifies a client by the host part of its remote address.
func ClientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleUnsupported rejects the request with 405 without touching the
// admission controller.
func (p *Pipeline) HandleUnsupported(w http.ResponseWriter, r *http.Request) {
	f := p.begin(r)
	w.Header().Set("Allow", "GET, HEAD, POST")
	p.reject(w, r, f, apperrors.NewMethodNotAllowedError("Method "+r.Method+" is not allowed"))
}

// admit runs the admission and URL length checks shared by every supported
// method. It reports whether the request may continue.
func (p *Pipeline) admit(w http.ResponseWriter, r *http.Request, f *flow) bool {
	decision := p.admission.Check(f.client, p.now())
	f.advance(StateRateChecked)
	if !decision.Allowed {
		seconds := retryAfterSeconds(decision.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		p.reject(w, r, f, apperrors.NewRateLimitedError("Too many requests", seconds))
		return false
	}

	if uriLength(r) > p.cfg.MaxURLLength && p.cfg.MaxURLLength > 0 {
		p.reject(w, r, f, apperrors.NewURITooLongError("Request URI exceeds "+strconv.Itoa(p.cfg.MaxURLLength)+" bytes"))
		return false
	}
	return true
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, f *flow, env *errors.ErrorEnvelope) {
	f.finish(StateRejected, zap.String("error_code", env.Code))
	apperrors.RespondWithEnvelope(w, r, env)
}

func (p *Pipeline) fail(w http.ResponseWriter, r *http.Request, f *flow, err error, message string) {
	f.finish(StateRejected, zap.Error(err))
	apperrors.RespondWithEnvelope(w, r, apperrors.WrapInternal(r.Context(), err, message))
}

func uriLength(r *http.Request) int {
	if r.RequestURI != "" {
		return len(r.RequestURI)
	}
	return len(r.URL.RequestURI())
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// State is a stage in the life of a request.
type State string

const (
	StateReceived    State = "received"
	StateRateChecked State = "rate_checked"
	StateValidated   State = "validated"
	StateCacheHit    State = "cache_hit"
	StateCacheMiss   State = "cache_miss"
	StatePopulated   State = "populated"
	StateServed      State = "served"
	StateRejected    State = "rejected"
)

// flow tracks the states a single request passes through.
type flow struct {
	id     string
	method string
	path   string
	client string
	start  time.Time
	trail  []State
}

func (p *Pipeline) begin(r *http.Request) *flow {
	return &flow{
		id:     middleware.GetRequestID(r.Context()),
		method: r.Method,
		path:   r.URL.Path,
		client: p.clientID(r),
		start:  time.Now(),
		trail:  []State{StateReceived},
	}
}

func (f *flow) advance(s State) {
	f.trail = append(f.trail, s)
}

func (f *flow) finish(s State, fields ...zap.Field) {
	f.advance(s)
	if logger := observability.ServerLogger; logger != nil {
		states := make([]string, len(f.trail))
		for i, st := range f.trail {
			states[i] = string(st)
		}
		fields = append(fields,
			zap.String("request_id", f.id),
			zap.String("method", f.method),
			zap.String("path", f.path),
			zap.String("client", f.client),
			zap.String("state", string(s)),
			zap.Strings("trail", states),
			zap.Duration("elapsed", time.Since(f.start)),
		)
		logger.Debug("Request finished", fields...)
	}
}
