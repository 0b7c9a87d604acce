package pipeline

import (
	stderrors "errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/core/cache"
	"github.com/tollgate/tollgate/internal/core/resolver"
	apperrors "github.com/tollgate/tollgate/internal/errors"
	"github.com/tollgate/tollgate/internal/metrics"
	"github.com/tollgate/tollgate/internal/observability"
)

// loaded is the result shared between coalesced cache misses.
type loaded struct {
	entry     cache.Entry
	populated bool
}

// HandleGet serves a file, an index page or a directory listing.
func (p *Pipeline) HandleGet(w http.ResponseWriter, r *http.Request) {
	f := p.begin(r)
	if !p.admit(w, r, f) {
		return
	}

	target := resolver.Normalize(r.URL.Path)
	if !p.files.Allowed(target) {
		p.reject(w, r, f, apperrors.NewForbiddenError("Access to "+target+" is forbidden"))
		return
	}

	info, err := p.files.Stat(target)
	if err != nil {
		if stderrors.Is(err, resolver.ErrNotFound) {
			p.reject(w, r, f, apperrors.NewNotFoundError("The requested resource was not found"))
			return
		}
		p.fail(w, r, f, err, "Unable to stat resource")
		return
	}
	f.advance(StateValidated)

	if info.IsDir {
		index, ok := p.files.IndexPath(target)
		if !ok {
			p.serveListing(w, r, f, target)
			return
		}
		if info, err = p.files.Stat(index); err != nil {
			p.fail(w, r, f, err, "Unable to stat index file")
			return
		}
		target = index
	}

	p.serveFile(w, r, f, target, info)
}

func (p *Pipeline) serveFile(w http.ResponseWriter, r *http.Request, f *flow, target string, info resolver.Info) {
	key := p.keyer(target)

	hit, ok := p.cache.GetIf(key, func(entry cache.Entry) bool {
		return fresh(entry, target, info)
	})
	if ok {
		f.advance(StateCacheHit)
		writePayload(w, r, hit.ContentType, hit.ModTime, hit.Payload)
		f.finish(StateServed)
		return
	}
	f.advance(StateCacheMiss)

	if info.Size > p.cfg.MaxEntryBytes {
		p.cache.Discard(key, target)
		p.stream(w, r, f, target, info)
		return
	}

	// Coalesce on the path, not the key, so colliding paths never share a load.
	v, err, _ := p.loads.Do(target, func() (any, error) {
		return p.load(key, target, info)
	})
	if err != nil {
		if stderrors.Is(err, resolver.ErrNotFound) {
			p.reject(w, r, f, apperrors.NewNotFoundError("The requested resource was not found"))
			return
		}
		p.fail(w, r, f, err, "Unable to read resource")
		return
	}

	result := v.(loaded)
	if result.populated {
		f.advance(StatePopulated)
	}
	writePayload(w, r, result.entry.ContentType, result.entry.ModTime, result.entry.Payload)
	f.finish(StateServed)
}

// load reads a resource and offers it to the cache when it falls inside the
// population window.
func (p *Pipeline) load(key cache.Key, target string, info resolver.Info) (loaded, error) {
	data, contentType, err := p.files.Read(target)
	if err != nil {
		metrics.RecordCachePopulation("failed")
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Cache population read failed",
				zap.String("path", target),
				zap.Error(err))
		}
		return loaded{}, err
	}

	entry := cache.Entry{
		Path:        target,
		ContentType: contentType,
		Payload:     data,
		ModTime:     info.ModTime,
	}

	size := int64(len(data))
	if size <= p.cfg.ThresholdBytes || size > p.cfg.MaxEntryBytes {
		// An older copy of this path may still be cached from when it was eligible.
		p.cache.Discard(key, target)
		metrics.RecordCachePopulation("skipped")
		return loaded{entry: entry}, nil
	}

	p.cache.Put(key, entry)
	metrics.RecordCachePopulation("stored")
	return loaded{entry: entry, populated: true}, nil
}

// stream serves a file too large to hold in memory straight from disk.
func (p *Pipeline) stream(w http.ResponseWriter, r *http.Request, f *flow, target string, info resolver.Info) {
	file, err := p.files.Open(target)
	if err != nil {
		p.fail(w, r, f, err, "Unable to open resource")
		return
	}
	defer file.Close() // nolint:errcheck // read-only handle

	w.Header().Set("Content-Type", resolver.ContentType(target, nil))
	http.ServeContent(w, r, path.Base(target), info.ModTime, file)
	f.finish(StateServed, zap.Bool("streamed", true))
}

func (p *Pipeline) serveListing(w http.ResponseWriter, r *http.Request, f *flow, dir string) {
	page, err := p.files.Listing(dir)
	if err != nil {
		p.fail(w, r, f, err, "Unable to list directory")
		return
	}
	writePayload(w, r, "text/html; charset=utf-8", time.Time{}, page)
	f.finish(StateServed, zap.Bool("listing", true))
}

// fresh reports whether a cached entry still describes the file on disk and
// belongs to the requested path.
func fresh(entry cache.Entry, target string, info resolver.Info) bool {
	return entry.Path == target &&
		entry.ModTime.Equal(info.ModTime) &&
		int64(len(entry.Payload)) == info.Size
}

func writePayload(w http.ResponseWriter, r *http.Request, contentType string, modTime time.Time, payload []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	if !modTime.IsZero() {
		h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(payload); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Debug("Client went away mid-response", zap.Error(err))
	}
}
