package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/preview"
	"github.com/drummonds/tagview/internal/session"
	"github.com/drummonds/tagview/internal/tagapi"
	"github.com/drummonds/tagview/internal/upload"
)

const cookieName = "tagview_session"

type ctxKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(cookieName); err == nil && session.ValidID(c.Value) {
			id = c.Value
		} else {
			id = session.NewID()
		}
		// refresh on every request so an active visitor keeps the session
		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(s.opts.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.opts.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) notify(ctx context.Context, id string, kind session.FlashKind, msg string) {
	if err := s.sessions.Notify(ctx, id, session.Flash{Kind: kind, Message: msg}); err != nil {
		s.logger.Error("storing notification", zap.String("session_id", id), zap.Error(err))
	}
}

// requestSink ties one upload or sample analysis to a session generation.
// The handler begins it before replying so the loading overlay is already
// on the page the browser is redirected to; SetLoading(true) is then a
// no-op.
type requestSink struct {
	s      *Server
	ctx    context.Context
	id     string
	gen    uint64
	logger *zap.Logger
}

func (s *Server) beginRequest(ctx context.Context, id string) (*requestSink, error) {
	gen, err := s.sessions.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	return &requestSink{
		s:      s,
		ctx:    ctx,
		id:     id,
		gen:    gen,
		logger: s.logger.With(zap.String("session_id", id), zap.Uint64("generation", gen)),
	}, nil
}

// bind swaps in the background context once the handler has replied.
func (rs *requestSink) bind(ctx context.Context) *requestSink {
	c := *rs
	c.ctx = ctx
	return &c
}

func (rs *requestSink) SetLoading(loading bool) {
	if loading {
		return
	}
	if err := rs.s.sessions.Finish(rs.ctx, rs.id, rs.gen); err != nil {
		rs.logger.Error("clearing loading flag", zap.Error(err))
	}
}

func (rs *requestSink) Publish(res upload.Result) {
	var img *session.Image
	details := ""
	if res.Data != nil {
		img = &session.Image{
			Name:        res.ImageName,
			ContentType: res.ContentType,
			Data:        res.Data,
		}
		details = describe(res)
		if rs.s.thumbs != nil {
			if _, err := rs.s.thumbs.Generate(rs.id, rs.gen, res.ImageName, res.ContentType, res.Data); err != nil {
				rs.logger.Warn("preview generation failed", zap.Error(err))
			}
		}
	}

	applied, err := rs.s.sessions.PublishImage(rs.ctx, rs.id, rs.gen, img, func(st *session.State) {
		st.ImageURL = res.ImageURL
		st.ImageName = res.ImageName
		st.ImageDetails = details
		st.Uploaded = res.Data != nil
		st.Tags = append([]tagapi.Tag{}, res.Tags...)
	})
	switch {
	case err != nil:
		rs.logger.Error("publishing result", zap.Error(err))
	case !applied:
		rs.logger.Info("dropping superseded result")
	}
	if rs.s.thumbs == nil {
		return
	}
	if applied {
		rs.s.thumbs.Remove(rs.id, rs.gen)
	} else if img != nil {
		rs.s.thumbs.Delete(rs.id, rs.gen)
	}
}

func (rs *requestSink) Notify(n upload.Notification) {
	kind := session.FlashSuccess
	if n.Kind == upload.Failure {
		kind = session.FlashError
	}
	applied, err := rs.s.sessions.Apply(rs.ctx, rs.id, rs.gen, func(st *session.State) {
		st.Flashes = append(st.Flashes, session.Flash{Kind: kind, Message: n.Message})
	})
	if err != nil {
		rs.logger.Error("storing notification", zap.Error(err))
	} else if !applied {
		rs.logger.Debug("dropping notification of superseded request", zap.String("message", n.Message))
	}
}

func describe(res upload.Result) string {
	size := upload.FormatSize(int64(len(res.Data)))
	info, err := preview.Inspect(res.Data)
	if err != nil {
		return size
	}
	return fmt.Sprintf("%d×%d %s, %s", info.Width, info.Height, info.Format, size)
}

// validationSink reports a rejected file before any request has begun.
type validationSink struct {
	s   *Server
	ctx context.Context
	id  string
}

func (v validationSink) SetLoading(bool)       {}
func (v validationSink) Publish(upload.Result) {}
func (v validationSink) Notify(n upload.Notification) {
	v.s.notify(v.ctx, v.id, session.FlashError, n.Message)
}

// analyticsSink ties one analytics fetch to a session analytics
// generation. The fetch is begun by the handler; SetAnalyticsLoading(true)
// is then a no-op.
type analyticsSink struct {
	s   *Server
	ctx context.Context
	id  string
	gen uint64
}

func (s *Server) beginAnalytics(ctx context.Context, id string) (analyticsSink, error) {
	gen, err := s.sessions.BeginAnalytics(ctx, id)
	return analyticsSink{s: s, ctx: ctx, id: id, gen: gen}, err
}

func (a analyticsSink) bind(ctx context.Context) analyticsSink {
	a.ctx = ctx
	return a
}

func (a analyticsSink) SetAnalyticsLoading(loading bool) {
	if loading {
		return
	}
	if err := a.s.sessions.FinishAnalytics(a.ctx, a.id, a.gen); err != nil {
		a.s.logger.Error("clearing analytics loading", zap.String("session_id", a.id), zap.Error(err))
	}
}

func (a analyticsSink) SetAnalytics(summary *tagapi.AnalyticsSummary) {
	applied, err := a.s.sessions.SetAnalytics(a.ctx, a.id, a.gen, summary)
	switch {
	case err != nil:
		a.s.logger.Error("storing analytics", zap.String("session_id", a.id), zap.Error(err))
	case !applied:
		a.s.logger.Debug("dropping superseded analytics", zap.String("session_id", a.id))
	}
}
