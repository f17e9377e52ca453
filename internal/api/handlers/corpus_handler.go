package handlers

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/logging"
)

// DefaultMaxUploadSize is the default limit for corpus uploads (30 MB)
const DefaultMaxUploadSize = 30 * 1024 * 1024

// CorpusHandler handles the /v1/corpus endpoints
type CorpusHandler struct {
	corpus        api.CorpusManager
	maxUploadSize int64
	logger        *logging.Logger
}

// NewCorpusHandler creates a new corpus handler. A non-positive
// maxUploadSize uses DefaultMaxUploadSize.
func NewCorpusHandler(c api.CorpusManager, maxUploadSize int64, logger *logging.Logger) *CorpusHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &CorpusHandler{
		corpus:        c,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// HandleLoad loads a corpus from a multipart upload (form field "file") or
// from a server-side path given as {"path": ...}. Loading is idempotent:
// a non-empty collection is left untouched unless reset is requested.
func (h *CorpusHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		rep *corpus.LoadReport
		err error
	)
	if mediaType == "multipart/form-data" {
		rep, err = h.loadUpload(r)
	} else {
		rep, err = h.loadPath(r)
	}
	if err != nil {
		h.logger.Error("Corpus load failed: %v", err)
		api.WriteAPIError(w, api.FromError(err))
		return
	}

	h.logger.InfoWithFields("Corpus load finished",
		logging.Field("source", rep.Source),
		logging.Field("inserted", rep.Inserted),
		logging.Field("skipped", rep.Skipped))
	_ = api.WriteSuccess(w, rep)
}

func (h *CorpusHandler) loadUpload(r *http.Request) (*corpus.LoadReport, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if api.FromError(err).Code == api.ErrorCodePayloadTooLarge {
			return nil, err
		}
		return nil, api.NewInvalidRequestError("multipart field \"file\" is required: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()

	incidents, err := corpus.ReadSource(header.Filename, file)
	if err != nil {
		return nil, err
	}
	if r.FormValue("reset") == "true" {
		if err := h.corpus.Reset(r.Context()); err != nil {
			return nil, err
		}
	}
	return h.corpus.Load(r.Context(), header.Filename, incidents, nil)
}

func (h *CorpusHandler) loadPath(r *http.Request) (*corpus.LoadReport, error) {
	var body api.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if api.FromError(err).Code == api.ErrorCodePayloadTooLarge {
			return nil, err
		}
		return nil, api.NewInvalidRequestError("invalid JSON body: %v", err)
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	if body.Reset {
		if err := h.corpus.Reset(r.Context()); err != nil {
			return nil, err
		}
	}
	return h.corpus.LoadFile(r.Context(), body.Path, nil)
}

// HandleReset removes every record from the collection
func (h *CorpusHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.corpus.Reset(r.Context()); err != nil {
		h.logger.Error("Corpus reset failed: %v", err)
		api.WriteAPIError(w, api.FromError(err))
		return
	}
	h.logger.Info("Corpus reset")
	_ = api.WriteSuccess(w, map[string]any{"status": "reset", "count": 0})
}

// HandleCount returns the number of records in the collection
func (h *CorpusHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.corpus.Count(r.Context())
	if err != nil {
		api.WriteAPIError(w, api.FromError(err))
		return
	}
	_ = api.WriteSuccess(w, map[string]int{"count": n})
}
