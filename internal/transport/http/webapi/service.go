// Package webapi serves the drop page API: upload sessions, conversion runs
// and archive downloads.
package webapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Lucke514/ImageConverter/internal/domain/batch"
	"github.com/Lucke514/ImageConverter/internal/domain/image"
	"github.com/Lucke514/ImageConverter/internal/domain/session"
	"github.com/Lucke514/ImageConverter/internal/platform/config"
	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	httptransport "github.com/Lucke514/ImageConverter/internal/transport/http"
	"github.com/Lucke514/ImageConverter/internal/transport/ws"
)

// Runner is the part of the batch processor the API drives.
type Runner interface {
	Run(ctx context.Context, items []*batch.Item, opts image.Options, runOpts ...batch.RunOption) (*batch.Archive, error)
}

// Options wires the service dependencies.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Store     *session.Store
	Processor Runner
	Streams   *ws.Router
}

type Service struct {
	logger    *logging.Logger
	config    *config.Config
	store     *session.Store
	processor Runner
	streams   *ws.Router
}

func NewService(opts Options) (*Service, error) {
	const op = "webapi.new"
	switch {
	case opts.Config == nil:
		return nil, errors.New(errors.KindConfig, op, "config is required")
	case opts.Store == nil:
		return nil, errors.New(errors.KindConfig, op, "session store is required")
	case opts.Processor == nil:
		return nil, errors.New(errors.KindConfig, op, "processor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Service{
		logger:    opts.Logger,
		config:    opts.Config,
		store:     opts.Store,
		processor: opts.Processor,
		streams:   opts.Streams,
	}, nil
}

// Register mounts the API routes on api and the stream route on engine.
func (s *Service) Register(api *gin.RouterGroup, engine *gin.Engine) {
	api.GET("/formats", s.handleFormats)
	api.GET("/options", s.handleDefaultOptions)

	sessions := api.Group("/sessions")
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/images", s.handleUpload)
	sessions.DELETE("/:id/images/:item", s.handleRemoveItem)
	sessions.POST("/:id/convert", s.handleConvert)
	sessions.POST("/:id/cancel", s.handleCancel)
	sessions.GET("/:id/archive", s.handleArchive)

	if s.streams != nil && engine != nil {
		engine.GET("/ws/sessions/:id", s.handleStream)
	}

	s.logger.InfoTag("HTTP", "drop page routes registered")
}

type formatsResponse struct {
	MediaType string   `json:"media_type,omitempty"`
	Formats   []string `json:"formats"`
	Default   string   `json:"default"`
}

func (s *Service) handleFormats(c *gin.Context) {
	mediaType := c.Query("type")

	var formats []image.Format
	if mediaType == "" {
		formats = image.AllFormats()
	} else {
		mediaType = image.NormalizeMediaType(mediaType)
		formats = image.FormatsFor(mediaType)
	}

	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.String()
	}
	httptransport.RespondSuccess(c, http.StatusOK, formatsResponse{
		MediaType: mediaType,
		Formats:   names,
		Default:   names[0],
	}, "")
}

func (s *Service) handleDefaultOptions(c *gin.Context) {
	opts, err := s.defaultOptions()
	if err != nil {
		httptransport.RespondAppError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, opts, "")
}

type sessionResponse struct {
	ID      string           `json:"id"`
	Running bool             `json:"running"`
	Items   []batch.ItemView `json:"items"`
	Archive *archiveInfo     `json:"archive,omitempty"`
}

type archiveInfo struct {
	FileName  string   `json:"file_name"`
	Size      int      `json:"size"`
	Entries   []string `json:"entries"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
}

func describeArchive(a *batch.Archive) *archiveInfo {
	if a == nil {
		return nil
	}
	return &archiveInfo{
		FileName:  a.FileName,
		Size:      len(a.Data),
		Entries:   a.Entries,
		Succeeded: a.Succeeded,
		Failed:    a.Failed,
		Skipped:   a.Skipped,
	}
}

func describeSession(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:      sess.ID,
		Running: sess.Running(),
		Items:   sess.Views(),
		Archive: describeArchive(sess.Archive()),
	}
}

func (s *Service) handleCreateSession(c *gin.Context) {
	sess := s.store.Create(c.Request.Context())
	httptransport.RespondSuccess(c, http.StatusCreated, describeSession(sess), "session created")
}

func (s *Service) lookup(c *gin.Context) (*session.Session, bool) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httptransport.RespondAppError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Service) handleGetSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, describeSession(sess), "")
}

func (s *Service) handleDeleteSession(c *gin.Context) {
	if _, ok := s.lookup(c); !ok {
		return
	}
	s.store.Remove(c.Request.Context(), c.Param("id"))
	httptransport.RespondSuccess(c, http.StatusOK, nil, "session removed")
}

type uploadResponse struct {
	Items    []batch.ItemView `json:"items"`
	Rejected []string         `json:"rejected,omitempty"`
}

func (s *Service) handleUpload(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	if limit := s.config.Server.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	form, err := c.MultipartForm()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err), nil)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		httptransport.RespondError(c, http.StatusBadRequest, "no files in field \"files\"", nil)
		return
	}

	var (
		items    []*batch.Item
		rejected []string
	)
	for _, fh := range files {
		src, err := readPart(fh)
		if err != nil {
			s.logger.WarnTag("HTTP", "upload %s: %v", fh.Filename, err)
			rejected = append(rejected, fh.Filename)
			continue
		}
		items = append(items, batch.NewItem(src))
	}
	sess.Add(items...)

	views := make([]batch.ItemView, len(items))
	for i, it := range items {
		views[i] = it.View()
	}
	s.logger.InfoTag("SESSION", "%s: %d files added, %d rejected", sess.ID, len(items), len(rejected))

	status := http.StatusCreated
	if len(items) == 0 {
		status = http.StatusUnsupportedMediaType
	}
	httptransport.RespondSuccess(c, status, uploadResponse{Items: views, Rejected: rejected}, "")
}

// readPart loads one multipart file and keeps it only if it is an image.
func readPart(fh *multipart.FileHeader) (image.SourceImage, error) {
	f, err := fh.Open()
	if err != nil {
		return image.SourceImage{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return image.SourceImage{}, err
	}
	mediaType := image.DetectMediaType(fh.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(mediaType, "image/") {
		return image.SourceImage{}, fmt.Errorf("not an image (%s)", mediaType)
	}
	return image.SourceImage{Name: fh.Filename, MediaType: mediaType, Data: data}, nil
}

func (s *Service) handleRemoveItem(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := sess.Remove(c.Param("item")); err != nil {
		httptransport.RespondAppError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, describeSession(sess), "item removed")
}

// convertRequest mirrors image.Options with every field optional.
type convertRequest struct {
	Format    string `json:"format"`
	Quality   *int   `json:"quality"`
	MaxWidth  *int   `json:"maxWidth"`
	MaxHeight *int   `json:"maxHeight"`
}

func (s *Service) defaultOptions() (image.Options, error) {
	cc := s.config.Convert
	format, err := image.ParseFormat(cc.Format)
	if err != nil {
		return image.Options{}, err
	}
	return image.Options{
		Format:    format,
		Quality:   cc.Quality,
		MaxWidth:  cc.MaxWidth,
		MaxHeight: cc.MaxHeight,
	}, nil
}

func (s *Service) resolveOptions(c *gin.Context) (image.Options, error) {
	opts, err := s.defaultOptions()
	if err != nil {
		return opts, err
	}
	if c.Request.ContentLength == 0 {
		return opts, nil
	}

	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return opts, errors.Wrap(errors.KindConfig, "webapi.options", "invalid options body", err)
	}
	if req.Format != "" {
		if opts.Format, err = image.ParseFormat(req.Format); err != nil {
			return opts, err
		}
	}
	if req.Quality != nil {
		opts.Quality = *req.Quality
	}
	if req.MaxWidth != nil {
		opts.MaxWidth = *req.MaxWidth
	}
	if req.MaxHeight != nil {
		opts.MaxHeight = *req.MaxHeight
	}
	return opts, opts.Validate()
}

func (s *Service) handleConvert(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	opts, err := s.resolveOptions(c)
	if err != nil {
		httptransport.RespondAppError(c, err)
		return
	}

	ctx, err := sess.Begin(c.Request.Context())
	if err != nil {
		httptransport.RespondAppError(c, err)
		return
	}

	arch, err := s.processor.Run(ctx, sess.Items(), opts, batch.WithBatchID(sess.ID))
	sess.End(arch)
	if err != nil {
		s.logger.WarnTag("HTTP", "session %s: convert failed: %v", sess.ID, err)
		httptransport.RespondError(c, httptransport.StatusFor(err), err.Error(), describeSession(sess))
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, describeSession(sess), "conversion finished")
}

func (s *Service) handleCancel(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if !sess.Cancel() {
		httptransport.RespondError(c, http.StatusConflict, "no conversion running", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusAccepted, nil, "cancelling")
}

func (s *Service) handleArchive(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	arch := sess.Archive()
	if arch == nil {
		httptransport.RespondError(c, http.StatusNotFound, "no archive yet", nil)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, arch.FileName))
	c.Data(http.StatusOK, "application/zip", arch.Data)
}

func (s *Service) handleStream(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	s.streams.Handle(c.Writer, c.Request, sess.ID)
}

// CancelOnMessage returns a stream handler that cancels the session's run
// when the client sends {"type":"cancel"}.
func CancelOnMessage(store *session.Store) ws.MessageHandler {
	return func(stream *ws.Session, msg ws.Message) {
		if msg.Type != "cancel" {
			return
		}
		if sess, err := store.Get(stream.Context(), stream.Topic()); err == nil {
			sess.Cancel()
		}
	}
}
