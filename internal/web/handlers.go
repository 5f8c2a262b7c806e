package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/analytics"
	"github.com/drummonds/tagview/internal/session"
	"github.com/drummonds/tagview/internal/tagapi"
	"github.com/drummonds/tagview/internal/tagdisplay"
	"github.com/drummonds/tagview/internal/upload"
)

type SampleView struct {
	ID       int
	Filename string
	Emoji    string
	Label    string
}

type BubbleView struct {
	TagName            string
	PercentageOnImages float64
	AvgConfidence      float64
	SizeClass          string
	ColorClass         string
}

type PageData struct {
	State      session.State
	Flashes    []session.Flash
	Tags       []tagdisplay.View
	Samples    []SampleView
	Bubbles    []BubbleView
	Viewer     *ViewerData
	PreviewURL string
	BackendURL string
	MaxSize    string
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	samples, ok := s.currentSamples(ctx)
	if !ok {
		s.notify(ctx, id, session.FlashError, "Failed to load sample images")
	}

	// first view of this session: fetch analytics once, even if it fails
	gen, started, err := s.sessions.BeginFirstAnalytics(ctx, id)
	if err != nil {
		s.logger.Error("loading session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if started {
		s.background(func(bctx context.Context) {
			_ = s.analytics.Load(bctx, analyticsSink{s: s, ctx: bctx, id: id, gen: gen})
		})
	}

	st, flashes, err := s.sessions.Render(ctx, id)
	if err != nil {
		s.logger.Error("loading session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	data := PageData{
		State:      st,
		Flashes:    flashes,
		Tags:       tagdisplay.Render(st.Tags),
		Viewer:     Viewer(st.ImageURL, st.ImageName),
		BackendURL: s.opts.BackendURL,
		MaxSize:    upload.FormatSize(upload.MaxFileSize),
	}
	if st.Uploaded {
		data.PreviewURL = fmt.Sprintf("/image/preview?g=%d", st.ImageGeneration)
	} else {
		data.PreviewURL = st.ImageURL
	}
	for _, smp := range samples {
		data.Samples = append(data.Samples, SampleView{
			ID:       smp.ID,
			Filename: smp.Filename,
			Emoji:    upload.SampleEmoji(smp.Filename),
			Label:    upload.SampleLabel(smp.Filename),
		})
	}
	if st.Analytics != nil {
		for i, t := range st.Analytics.TopTags {
			data.Bubbles = append(data.Bubbles, BubbleView{
				TagName:            t.TagName,
				PercentageOnImages: t.PercentageOnImages,
				AvgConfidence:      t.AvgConfidence,
				SizeClass:          tagdisplay.BubbleSize(t.PercentageOnImages),
				ColorClass:         tagdisplay.BubbleColor(i),
			})
		}
	}

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
		s.logger.Error("rendering page", zap.Error(err))
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// maxUploadBody leaves room for the multipart framing around a file of
// upload.MaxFileSize.
const maxUploadBody = upload.MaxFileSize + 1<<20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	defer http.Redirect(w, r, "/", http.StatusSeeOther)

	// too large to even read; still a validation failure
	tooLarge := func(size int64) {
		_ = s.uploads.Check(validationSink{s: s, ctx: ctx, id: id}, upload.FileInfo{ContentType: "image/*", Size: size})
	}
	if r.ContentLength > maxUploadBody {
		tooLarge(r.ContentLength)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			tooLarge(mbe.Limit + 1)
			return
		}
		s.logger.Info("upload without file", zap.Error(err))
		s.notify(ctx, id, session.FlashError, "Please select an image file")
		return
	}
	defer file.Close()

	info := upload.FileInfo{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
	}
	if info.Size <= upload.MaxFileSize {
		// browsers occasionally send no type; sniff before deciding
		if info.ContentType == "" || info.ContentType == "application/octet-stream" {
			head := make([]byte, 512)
			n, _ := io.ReadFull(file, head)
			info.ContentType = http.DetectContentType(head[:n])
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				s.notify(ctx, id, session.FlashError, "Failed to analyze image")
				return
			}
		}
	}
	if err := s.uploads.Check(validationSink{s: s, ctx: ctx, id: id}, info); err != nil {
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("reading upload", zap.Error(err))
		s.notify(ctx, id, session.FlashError, "Failed to analyze image")
		return
	}

	sink, err := s.beginRequest(ctx, id)
	if err != nil {
		s.logger.Error("starting upload", zap.Error(err))
		s.notify(ctx, id, session.FlashError, "Failed to analyze image")
		return
	}
	imageURL := fmt.Sprintf("/image/current?g=%d", sink.gen)
	s.background(func(bctx context.Context) {
		if err := s.uploads.UploadFile(bctx, sink.bind(bctx), info, data, imageURL); err == nil {
			s.refreshAfterResult(bctx, id)
		}
	})
}

func (s *Server) handleAnalyzeSample(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)
	defer http.Redirect(w, r, "/", http.StatusSeeOther)

	sampleID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.notify(ctx, id, session.FlashError, "Failed to analyze sample image")
		return
	}
	smp, ok := s.findSample(sampleID)
	if !ok {
		s.logger.Info("unknown sample", zap.Int("sample_id", sampleID))
		s.notify(ctx, id, session.FlashError, "Failed to analyze sample image")
		return
	}

	sink, err := s.beginRequest(ctx, id)
	if err != nil {
		s.logger.Error("starting sample analysis", zap.Error(err))
		s.notify(ctx, id, session.FlashError, "Failed to analyze sample image")
		return
	}
	s.background(func(bctx context.Context) {
		if err := s.uploads.AnalyzeSample(bctx, sink.bind(bctx), smp); err == nil {
			s.refreshAfterResult(bctx, id)
		}
	})
}

// refreshAfterResult updates analytics so the counts include the image just
// analyzed.
func (s *Server) refreshAfterResult(ctx context.Context, id string) {
	sink, err := s.beginAnalytics(ctx, id)
	if err != nil {
		s.logger.Error("starting analytics refresh", zap.String("session_id", id), zap.Error(err))
		return
	}
	_ = s.analytics.Refresh(ctx, sink)
}

func (s *Server) handleRefreshAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	sink, err := s.beginAnalytics(ctx, id)
	if err != nil {
		s.logger.Error("starting analytics refresh", zap.String("session_id", id), zap.Error(err))
		s.notify(ctx, id, session.FlashError, "Failed to refresh analytics")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.background(func(bctx context.Context) {
		if err := s.analytics.Refresh(bctx, sink.bind(bctx)); err != nil {
			s.notify(bctx, id, session.FlashError, "Failed to refresh analytics")
		}
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := analytics.Chart(st.Analytics, &buf); err != nil {
		if errors.Is(err, analytics.ErrNoData) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("rendering chart", zap.Error(err))
		http.Error(w, "chart error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

// imageGeneration is the g query parameter, or the generation of the image
// on screen when absent.
func (s *Server) imageGeneration(r *http.Request) (uint64, error) {
	if g := r.URL.Query().Get("g"); g != "" {
		return strconv.ParseUint(g, 10, 64)
	}
	st, err := s.sessions.Get(r.Context(), sessionID(r))
	return st.ImageGeneration, err
}

func (s *Server) handleCurrentImage(w http.ResponseWriter, r *http.Request) {
	gen, err := s.imageGeneration(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.serveImage(w, r, gen)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, gen uint64) {
	img, err := s.sessions.Image(r.Context(), sessionID(r), gen)
	if err != nil {
		if !errors.Is(err, session.ErrNoImage) {
			s.logger.Error("loading image", zap.Error(err))
		}
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(img.Data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	gen, err := s.imageGeneration(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if s.thumbs != nil && s.thumbs.Exists(id, gen) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=86400")
		http.ServeFile(w, r, s.thumbs.Path(id, gen))
		return
	}
	s.serveImage(w, r, gen)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if st.Tags == nil {
		st.Tags = []tagapi.Tag{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

var funcMap = map[string]any{
	"pct": func(f float64) string {
		return strings.TrimSuffix(strconv.FormatFloat(f, 'f', 1, 64), ".0") + "%"
	},
	"fixed1": func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) },
	"add":    func(a, b int) int { return a + b },
}
