package hlsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MediaResolver maps an opaque video identifier to a local file and its
// total duration in seconds.
type MediaResolver interface {
	Resolve(ctx context.Context, videoID string) (path string, duration float64, err error)
}

// ProbeResolver resolves video IDs as paths under a media root and probes
// the duration with ffprobe.
type ProbeResolver struct {
	MediaRoot     string
	FFprobeBinary string
}

func (p *ProbeResolver) Resolve(ctx context.Context, videoID string) (string, float64, error) {
	cleaned := filepath.Clean("/" + videoID)
	if strings.Contains(cleaned, "..") {
		return "", 0, ErrSourceNotFound
	}

	path := filepath.Join(p.MediaRoot, cleaned)
	if _, err := os.Stat(path); err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrSourceNotFound, videoID)
	}

	duration, err := probeDuration(ctx, p.FFprobeBinary, path)
	if err != nil {
		return "", 0, fmt.Errorf("unable to probe %q: %w", videoID, err)
	}

	return path, duration, nil
}

func probeDuration(ctx context.Context, ffprobeBinary string, inputFilePath string) (float64, error) {
	args := []string{
		"-v", "error", // Hide debug information
		"-ignore_chapters", "1",

		"-show_entries", "format=duration",

		"-of", "json",
		inputFilePath,
	}

	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return 0, err
	}

	if out.Format.Duration == "" {
		return 0, nil
	}

	return strconv.ParseFloat(out.Format.Duration, 64)
}
