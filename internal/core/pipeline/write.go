package pipeline

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/core/resolver"
	apperrors "github.com/tollgate/tollgate/internal/errors"
	"github.com/tollgate/tollgate/internal/metrics"
)

// uploadField is the multipart form field carrying the uploaded file.
const uploadField = "file"

// HandlePost stores uploads and echoes any other POST body. Writes never
// touch the cache.
func (p *Pipeline) HandlePost(w http.ResponseWriter, r *http.Request) {
	f := p.begin(r)
	if !p.admit(w, r, f) {
		return
	}
	f.advance(StateValidated)

	if p.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, p.cfg.MaxUploadBytes)
	}

	if resolver.Normalize(r.URL.Path) == p.cfg.UploadPath {
		p.upload(w, r, f)
		return
	}
	p.echo(w, r, f)
}

func (p *Pipeline) echo(w http.ResponseWriter, r *http.Request, f *flow) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.reject(w, r, f, bodyError(r, err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Received POST data: %s", body)
	f.finish(StateServed, zap.Int("body_bytes", len(body)))
}

func (p *Pipeline) upload(w http.ResponseWriter, r *http.Request, f *flow) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		p.rejectUpload(w, r, f, apperrors.NewInvalidInputError("Content-Type must be multipart/form-data"))
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		p.rejectUpload(w, r, f, apperrors.WrapInvalidInput(r.Context(), err, "Malformed multipart body"))
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			p.rejectUpload(w, r, f, apperrors.NewInvalidInputError("No file was uploaded"))
			return
		}
		if err != nil {
			p.rejectUpload(w, r, f, bodyError(r, err))
			return
		}

		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		if part.FileName() == "" {
			p.rejectUpload(w, r, f, apperrors.NewInvalidInputError("No file was uploaded"))
			return
		}

		content := bufio.NewReader(part)
		if _, err := content.Peek(1); err != nil {
			if err == io.EOF {
				p.rejectUpload(w, r, f, apperrors.NewInvalidInputError("Uploaded file is empty"))
				return
			}
			p.rejectUpload(w, r, f, bodyError(r, err))
			return
		}

		name, err := p.files.SaveUpload(part.FileName(), content)
		if err != nil {
			switch {
			case stderrors.Is(err, resolver.ErrInvalidFilename):
				p.rejectUpload(w, r, f, apperrors.WrapInvalidInput(r.Context(), err, "Invalid file name"))
			case isTooLarge(err):
				p.rejectUpload(w, r, f, bodyError(r, err))
			case isStorageError(err):
				metrics.RecordUpload("failed")
				p.fail(w, r, f, err, "Unable to store upload")
			default:
				// Anything else came from reading the request body.
				p.rejectUpload(w, r, f, bodyError(r, err))
			}
			return
		}

		metrics.RecordUpload("stored")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "File '%s' uploaded successfully.", name)
		f.finish(StateServed, zap.String("upload", name))
		return
	}
}

func (p *Pipeline) rejectUpload(w http.ResponseWriter, r *http.Request, f *flow, env *errors.ErrorEnvelope) {
	metrics.RecordUpload("rejected")
	p.reject(w, r, f, env)
}

// bodyError maps a request body read failure to a 400 envelope.
func bodyError(r *http.Request, err error) *errors.ErrorEnvelope {
	if isTooLarge(err) {
		return apperrors.WrapInvalidInput(r.Context(), err, "Request body too large")
	}
	return apperrors.WrapInvalidInput(r.Context(), err, "Malformed request body")
}

func isStorageError(err error) bool {
	var pathErr *fs.PathError
	return stderrors.As(err, &pathErr)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return stderrors.As(err, &maxErr)
}
