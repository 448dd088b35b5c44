package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"seekstream/hlsession"
)

// how often the segment poll-and-wait loop re-checks availability
const segmentPollInterval = 250 * time.Millisecond

// ceiling for the segment poll-and-wait loop; the seek controller's wait
// budget must stay below this
const segmentPollTimeout = 15 * time.Second

func (a *ApiManagerCtx) vodRoutes(r chi.Router) {
	r.Get("/{videoID}/index.m3u8", a.createSession)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/index.m3u8", a.serveMasterPlaylist)
		r.Get("/{quality}.m3u8", a.serveMediaPlaylist)
		r.Get("/{quality}/{segment}", a.serveSegment)
		r.Post("/seek", a.handleSeek)
		r.Delete("/", a.killSession)
	})
}

func (a *ApiManagerCtx) createSession(w http.ResponseWriter, r *http.Request) {
	videoID, err := url.PathUnescape(chi.URLParam(r, "videoID"))
	if err != nil {
		http.Error(w, "400 bad video id", http.StatusBadRequest)
		return
	}

	startTime, _ := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	userID := r.Header.Get("X-User-Id")

	session, err := a.registry.GetOrCreateSession(r.Context(), videoID, startTime, userID)
	if err != nil {
		if errors.Is(err, hlsession.ErrSourceNotFound) {
			http.Error(w, "404 video not found", http.StatusNotFound)
			return
		}

		a.logger.Warn().Err(err).Str("video", videoID).Msg("unable to create session")
		http.Error(w, "500 unable to create session", http.StatusInternalServerError)
		return
	}

	if err := a.registry.StartTranscoding(r.Context(), session); err != nil {
		a.registry.KillSession(session.ID)

		if errors.Is(err, hlsession.ErrFirstSegmentTimeout) {
			a.logger.Warn().Str("session", session.ID).Msg("transcode startup timeouted")
			http.Error(w, "504 transcode timeout", http.StatusGatewayTimeout)
			return
		}

		a.logger.Warn().Err(err).Str("session", session.ID).Msg("transcode could not be started")
		http.Error(w, "500 transcode could not be started", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/vod/sessions/"+session.ID+"/index.m3u8", http.StatusFound)
}

func (a *ApiManagerCtx) serveMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	session, err := a.registry.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "404 session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, session.MasterPlaylistPath)
}

func (a *ApiManagerCtx) serveMediaPlaylist(w http.ResponseWriter, r *http.Request) {
	session, err := a.registry.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "404 session not found", http.StatusNotFound)
		return
	}

	if chi.URLParam(r, "quality") != session.Quality.Name {
		http.Error(w, "404 quality not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, session.MediaPlaylistPath())
}

// serveSegment is the delivery endpoint's poll-and-wait loop: the manifest
// promises every segment up front, so a request may arrive well before the
// encoder has produced the file. It only ever reads completed-segment
// membership plus file existence, and touches the session on every poll.
func (a *ApiManagerCtx) serveSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := a.registry.GetSession(sessionID)
	if err != nil {
		http.Error(w, "404 session not found", http.StatusNotFound)
		return
	}

	if chi.URLParam(r, "quality") != session.Quality.Name {
		http.Error(w, "404 quality not found", http.StatusNotFound)
		return
	}

	index, ok := hlsession.ParseSegmentName(chi.URLParam(r, "segment"))
	if !ok {
		http.Error(w, "400 bad segment name", http.StatusBadRequest)
		return
	}

	deadline := time.NewTimer(segmentPollTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(segmentPollInterval)
	defer ticker.Stop()

	for {
		a.registry.UpdateSessionAccess(sessionID)

		if session.HasSegment(index) {
			path := session.SegmentPath(index)
			if _, err := os.Stat(path); err == nil {
				w.Header().Set("Content-Type", "video/mp2t")
				w.Header().Set("Cache-Control", "no-cache")
				http.ServeFile(w, r, path)
				return
			}
		}

		if session.Status() == hlsession.StatusError {
			http.Error(w, "500 transcode failed", http.StatusInternalServerError)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			a.logger.Warn().Str("session", sessionID).Int("segment", index).Msg("segment wait timeouted")
			http.Error(w, "504 segment timeout", http.StatusGatewayTimeout)
			return
		case <-ticker.C:
		}
	}
}

func (a *ApiManagerCtx) handleSeek(w http.ResponseWriter, r *http.Request) {
	session, err := a.registry.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "404 session not found", http.StatusNotFound)
		return
	}

	newStartTime, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || newStartTime < 0 {
		http.Error(w, "400 bad seek offset", http.StatusBadRequest)
		return
	}

	restarted, err := a.registry.HandleSeek(session, newStartTime)
	if err != nil {
		a.logger.Warn().Err(err).Str("session", session.ID).Msg("seek failed")
		http.Error(w, "500 seek failed", http.StatusInternalServerError)
		return
	}

	if restarted {
		// the seek controller never spawns, that is on us
		if err := a.registry.StartTranscoding(r.Context(), session); err != nil {
			a.logger.Warn().Err(err).Str("session", session.ID).Msg("transcode restart failed")
			http.Error(w, "500 transcode restart failed", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"restarted": restarted,
		"status":    session.Status(),
	})
}

func (a *ApiManagerCtx) killSession(w http.ResponseWriter, r *http.Request) {
	a.registry.KillSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}
