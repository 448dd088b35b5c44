package hlsession

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// masterPlaylist references the session's single quality sub-playlist.
func masterPlaylist(quality Quality) string {
	// bandwidth in bits per second, with 5% mux overhead
	bandwidth := (quality.Video.Bitrate + quality.Audio.Bitrate) * 1000 / 100 * 105

	playlist := []string{
		"#EXTM3U",
		fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%s",
			bandwidth, quality.Video.Width, quality.Video.Height, quality.Name),
		fmt.Sprintf("%s.m3u8", quality.Name),
	}

	return strings.Join(playlist, "\n") + "\n"
}

// mediaPlaylist synthesizes the complete VOD manifest up front: every
// segment from 0 to totalSegments-1 is listed with its nominal duration and
// the list is terminated, so players offer the full seek bar before most
// segments exist on disk. The reconciler is what makes each listed segment
// actually appear over time.
func mediaPlaylist(quality Quality, totalSegments int, segmentDuration, duration float64) string {
	playlist := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:4",
		"#EXT-X-PLAYLIST-TYPE:VOD",
		"#EXT-X-MEDIA-SEQUENCE:0",
		"#EXT-X-INDEPENDENT-SEGMENTS",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", int(math.Ceil(segmentDuration))),
	}

	for i := 0; i < totalSegments; i++ {
		segment := segmentDuration
		if i == totalSegments-1 {
			if remainder := duration - float64(i)*segmentDuration; remainder > 0 {
				segment = remainder
			}
		}

		playlist = append(playlist,
			fmt.Sprintf("#EXTINF:%.3f, no desc", segment),
			fmt.Sprintf("%s/%s", quality.Name, segmentName(i)),
		)
	}

	playlist = append(playlist, "#EXT-X-ENDLIST")

	return strings.Join(playlist, "\n") + "\n"
}

// writePlaylists publishes both manifests. Called once per session; restarts
// never change totalSegments, so they never rewrite.
func (s *Session) writePlaylists() error {
	if err := os.WriteFile(s.MasterPlaylistPath, []byte(masterPlaylist(s.Quality)), 0644); err != nil {
		return fmt.Errorf("unable to write master playlist: %w", err)
	}

	s.mu.Lock()
	total := s.totalSegments
	s.mu.Unlock()

	media := mediaPlaylist(s.Quality, total, s.segmentDuration, s.Duration)
	mediaPath := filepath.Join(s.OutputDir, fmt.Sprintf("%s.m3u8", s.Quality.Name))
	if err := os.WriteFile(mediaPath, []byte(media), 0644); err != nil {
		return fmt.Errorf("unable to write media playlist: %w", err)
	}

	return nil
}

// MediaPlaylistPath is served by the delivery endpoint next to the segments.
func (s *Session) MediaPlaylistPath() string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("%s.m3u8", s.Quality.Name))
}
