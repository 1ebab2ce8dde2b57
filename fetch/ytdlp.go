package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"transcriber/config"
	"transcriber/pipeline"
)

// Format selector favoring the smallest rendition, audio is all we keep.
const ytdlpFormat = "worst[ext=mp4]/worst"

// Ytdlp fetches media through the yt-dlp binary, which understands pages from
// video hosting sites as well as direct links.
type Ytdlp struct {
	bin           string
	maxSize       int64
	socketTimeout time.Duration
	log           logrus.FieldLogger
}

func NewYtdlp(bin string, maxSize int64, socketTimeout time.Duration, log logrus.FieldLogger) (*Ytdlp, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", bin)
	}
	return &Ytdlp{
		bin:           path,
		maxSize:       maxSize,
		socketTimeout: socketTimeout,
		log:           log,
	}, nil
}

func (y *Ytdlp) args(url, dir string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"--no-warnings",
		"-f", ytdlpFormat,
		"--max-filesize", strconv.FormatInt(y.maxSize, 10),
		"-o", filepath.Join(dir, "media.%(ext)s"),
	}
	if y.socketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(y.socketTimeout.Seconds())))
	}
	// "--" keeps a url starting with a dash from being read as an option.
	return append(args, "--", url)
}

func (y *Ytdlp) Fetch(ctx context.Context, url, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, y.bin, y.args(url, dir)...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	y.log.WithField("url", url).Debug("Running yt-dlp")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(outputBuf.String()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "media.*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && !strings.HasSuffix(m, ".ytdl") {
			return m, nil
		}
	}
	// yt-dlp exits cleanly when it skips a file over --max-filesize.
	return "", fmt.Errorf("no media downloaded, it may exceed the %d byte limit", y.maxSize)
}

// Upper bound on how long yt-dlp waits on a stalled socket.
const maxSocketTimeout = 30 * time.Second

func socketTimeout(fetchTimeout time.Duration) time.Duration {
	if fetchTimeout > 0 && fetchTimeout < maxSocketTimeout {
		return fetchTimeout
	}
	return maxSocketTimeout
}

// New picks the fetch backend named by the configuration. "auto" prefers
// yt-dlp and falls back to plain HTTP when the binary is missing.
func New(cfg *config.Config, log logrus.FieldLogger) (pipeline.Fetcher, error) {
	switch cfg.FetchBackend {
	case config.FetchBackendHTTP:
		return NewHTTP(cfg.MaxDownloadSize), nil
	case config.FetchBackendYtdlp:
		y, err := NewYtdlp(cfg.YtdlpBin, cfg.MaxDownloadSize, socketTimeout(cfg.FetchTimeout), log)
		if err != nil {
			return nil, err
		}
		return y, nil
	case config.FetchBackendAuto, "":
		y, err := NewYtdlp(cfg.YtdlpBin, cfg.MaxDownloadSize, socketTimeout(cfg.FetchTimeout), log)
		if err != nil {
			log.WithError(err).Warn("Falling back to direct HTTP downloads")
			return NewHTTP(cfg.MaxDownloadSize), nil
		}
		return y, nil
	default:
		return nil, fmt.Errorf("unknown fetch backend %q", cfg.FetchBackend)
	}
}
