// Package ytdlp runs media tasks by shelling out to yt-dlp. The probe and
// download calls are long-running and bounded by timeouts; produced files are
// staged locally and then handed to the artifact store.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediafetch/fetch-api/internal/artifact"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/executor"
)

// Config controls the external yt-dlp invocation.
type Config struct {
	// Binary is the yt-dlp executable name or path.
	Binary string

	// StageDir is the local scratch directory downloads land in before they
	// are moved to the artifact store.
	StageDir string

	// EstimationBuffer is the safety factor applied to probed sizes, e.g.
	// 1.10 for a 10% margin.
	EstimationBuffer float64

	// ProbeTimeout bounds the metadata probe; RunTimeout bounds a download.
	ProbeTimeout time.Duration
	RunTimeout   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Binary == "" {
		out.Binary = "yt-dlp"
	}
	if out.StageDir == "" {
		out.StageDir = os.TempDir()
	}
	if out.EstimationBuffer < 1 {
		out.EstimationBuffer = 1.10
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 45 * time.Second
	}
	if out.RunTimeout <= 0 {
		out.RunTimeout = 30 * time.Minute
	}
	return out
}

// Runner implements executor.Executor over the yt-dlp CLI.
type Runner struct {
	cfg       Config
	artifacts *artifact.Store
	logger    *slog.Logger
}

// NewRunner creates a yt-dlp backed executor writing finished files into the
// given artifact store.
func NewRunner(cfg Config, artifacts *artifact.Store, logger *slog.Logger) *Runner {
	if artifacts == nil {
		panic("artifact store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg.withDefaults(),
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "ytdlp")),
	}
}

var _ executor.Executor = (*Runner)(nil)

// mediaInfo is the subset of yt-dlp -J output the runner reads.
type mediaInfo struct {
	Title          string        `json:"title"`
	Uploader       string        `json:"uploader"`
	Duration       float64       `json:"duration"`
	FilesizeApprox int64         `json:"filesize_approx"`
	TBR            float64       `json:"tbr"`
	Formats        []mediaFormat `json:"formats"`
}

type mediaFormat struct {
	FormatID       string  `json:"format_id"`
	ACodec         string  `json:"acodec"`
	VCodec         string  `json:"vcodec"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Height         int     `json:"height"`
	ABR            float64 `json:"abr"`
	TBR            float64 `json:"tbr"`
}

func (f mediaFormat) size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

func (f mediaFormat) audioOnly() bool {
	return (f.VCodec == "none" || f.VCodec == "") && f.ACodec != "none"
}

func (f mediaFormat) videoOnly() bool {
	return f.VCodec != "none" && f.VCodec != "" && f.ACodec == "none"
}

// EstimateSize probes the media's expected size. Live and metadata-only
// kinds are never probed; their cost is unknown until the work runs.
func (r *Runner) EstimateSize(ctx context.Context, task *domain.Task) (int64, error) {
	if !task.Type.Probeable() {
		return 0, nil
	}

	info, err := r.probe(ctx, taskURL(task))
	if err != nil {
		return 0, err
	}

	estimate := estimateFromInfo(info, task.Type)
	if estimate <= 0 {
		return 0, errors.New("media size unknown")
	}
	return int64(float64(estimate) * r.cfg.EstimationBuffer), nil
}

// estimateFromInfo sums the best matching stream sizes, falling back to the
// container-level approximation and then to duration * bitrate.
func estimateFromInfo(info *mediaInfo, taskType domain.TaskType) int64 {
	var total int64

	if taskType == domain.TaskTypeGetVideo {
		if best, ok := bestFormat(info.Formats, mediaFormat.videoOnly, func(a, b mediaFormat) bool {
			if a.Height != b.Height {
				return a.Height > b.Height
			}
			return a.TBR > b.TBR
		}); ok {
			total += best.size()
		}
	}

	if best, ok := bestFormat(info.Formats, mediaFormat.audioOnly, func(a, b mediaFormat) bool {
		if a.ABR != b.ABR {
			return a.ABR > b.ABR
		}
		return a.TBR > b.TBR
	}); ok {
		total += best.size()
	}

	if total == 0 && info.FilesizeApprox > 0 {
		total = info.FilesizeApprox
	}
	if total == 0 && info.Duration > 0 && info.TBR > 0 {
		total = int64(info.Duration * info.TBR * 1024 / 8)
	}
	return total
}

func bestFormat(formats []mediaFormat, match func(mediaFormat) bool, better func(a, b mediaFormat) bool) (mediaFormat, bool) {
	var best mediaFormat
	found := false
	for _, f := range formats {
		if !match(f) || f.size() == 0 {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	return best, found
}

// Execute downloads or probes the media for the task and stores the result.
func (r *Runner) Execute(ctx context.Context, task *domain.Task) (*executor.Result, error) {
	switch task.Type {
	case domain.TaskTypeGetInfo:
		return r.executeInfo(ctx, task)
	case domain.TaskTypeGetVideo, domain.TaskTypeGetAudio,
		domain.TaskTypeGetLiveVideo, domain.TaskTypeGetLiveAudio:
		return r.executeDownload(ctx, task)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, task.Type)
	}
}

func (r *Runner) executeInfo(ctx context.Context, task *domain.Task) (*executor.Result, error) {
	info, err := r.probe(ctx, taskURL(task))
	if err != nil {
		return nil, err
	}
	return &executor.Result{
		Extra: domain.Payload{
			"title":    info.Title,
			"uploader": info.Uploader,
			"duration": info.Duration,
		},
	}, nil
}

func (r *Runner) executeDownload(ctx context.Context, task *domain.Task) (*executor.Result, error) {
	stage := filepath.Join(r.cfg.StageDir, task.ID.String())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stage) }()

	args := downloadArgs(task, stage)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp download error: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	name, localPath, err := stagedFile(stage)
	if err != nil {
		return nil, err
	}

	size, err := r.artifacts.Save(ctx, task.ID, name, localPath)
	if err != nil {
		return nil, err
	}

	r.logger.Info("download finished",
		slog.String("task_id", task.ID.String()),
		slog.String("file", name),
		slog.Int64("size_bytes", size))

	return &executor.Result{
		FilePath:  r.artifacts.PublicPath(task.ID, name),
		SizeBytes: size,
	}, nil
}

// downloadArgs builds the yt-dlp invocation for one task.
func downloadArgs(task *domain.Task, stage string) []string {
	args := []string{"--no-warnings", "--no-progress"}

	switch task.Type {
	case domain.TaskTypeGetAudio:
		args = append(args,
			"-x", "--audio-format", "mp3",
			"-o", filepath.Join(stage, "audio.%(ext)s"))
	case domain.TaskTypeGetVideo:
		args = append(args,
			"-f", "bestvideo+bestaudio/best",
			"--merge-output-format", "mp4",
			"-o", filepath.Join(stage, "video.%(ext)s"))
	case domain.TaskTypeGetLiveVideo, domain.TaskTypeGetLiveAudio:
		start := int64(numeric(task.Params["start"]))
		duration := int64(numeric(task.Params["duration"]))
		section := fmt.Sprintf("*%d-%d", start, start+duration)
		args = append(args,
			"--download-sections", section,
			"--force-keyframes-at-cuts")
		if task.Type == domain.TaskTypeGetLiveAudio {
			args = append(args,
				"-x", "--audio-format", "mp3",
				"-o", filepath.Join(stage, "audio.%(ext)s"))
		} else {
			args = append(args,
				"--merge-output-format", "mp4",
				"-o", filepath.Join(stage, "video.%(ext)s"))
		}
	}

	return append(args, taskURL(task))
}

// stagedFile finds the single file yt-dlp produced in the staging directory.
func stagedFile(stage string) (name, path string, err error) {
	entries, err := os.ReadDir(stage)
	if err != nil {
		return "", "", fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		return entry.Name(), filepath.Join(stage, entry.Name()), nil
	}
	return "", "", errors.New("yt-dlp produced no output file")
}

func (r *Runner) probe(ctx context.Context, mediaURL string) (*mediaInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, r.cfg.Binary,
		"-J", "--no-warnings", "--skip-download", mediaURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp metadata error: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	var info mediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("yt-dlp metadata parse error: %v", err)
	}
	return &info, nil
}

func taskURL(task *domain.Task) string {
	url, _ := task.Params["url"].(string)
	return url
}

func numeric(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
