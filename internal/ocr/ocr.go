// Package ocr wraps the tesseract CLI as the OCR collaborator required by
// §6: extract_text(bytes) → string, with the two-configuration,
// 30-second-timeout-per-attempt policy the source service used for Hebrew
// homework photographs (heb+eng, a uniform-block pass then a single-line
// pass, keeping whichever produced more text).
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/learnobot/mediation/core"
)

// attempt pairs a tesseract page-segmentation-mode flag with the order it
// is tried in. --psm 6 (uniform block of text) suits homework photos best;
// --psm 7 (single text line) is the fallback for cropped or single-line
// shots.
var attempts = []string{"6", "7"}

// goodEnoughLength is the text length at which Extractor stops trying
// further configurations, matching the source service's early-exit.
const goodEnoughLength = 10

// minUsableLength is the longest trimmed length still treated as OCR noise;
// extracted text must be longer than this to count as real content.
const minUsableLength = 2

// minDimension is the smallest width/height tesseract reliably reads;
// smaller images are scaled up before recognition.
const minDimension = 600

// Extractor runs tesseract as a subprocess. It is safe for concurrent use:
// each call spawns its own process and temp file.
type Extractor struct {
	// BinaryPath is the tesseract executable to invoke. Defaults to
	// "tesseract", resolved against PATH.
	BinaryPath string
	// Languages is the -l argument. Defaults to "heb+eng".
	Languages string
	// AttemptTimeout bounds each individual configuration attempt.
	// Defaults to 30s per §5's "OCR per attempt ≤ 30s".
	AttemptTimeout time.Duration

	logger core.Logger
}

// New constructs an Extractor with the Hebrew-educational defaults.
func New(logger core.Logger) *Extractor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Extractor{
		BinaryPath:     "tesseract",
		Languages:      "heb+eng",
		AttemptTimeout: 30 * time.Second,
		logger:         logger,
	}
}

// Available reports whether the configured tesseract binary can be found,
// mirroring the source service's startup PATH probe.
func (e *Extractor) Available() bool {
	_, err := exec.LookPath(e.binaryPath())
	return err == nil
}

// ExtractText decodes imageData, preprocesses it for recognition, and runs
// tesseract across the configured attempts, keeping whichever attempt
// produced the most text. It returns ("", nil) — not an error — when
// tesseract ran but no usable text was recovered; callers substitute the
// fixed "could not read image" message for that case per §4.8.4. A non-nil
// error means OCR itself could not run at all (missing binary, unreadable
// image bytes, or every attempt failing to execute).
func (e *Extractor) ExtractText(ctx context.Context, imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("%w: empty image", core.ErrOCRFailed)
	}
	if !e.Available() {
		return "", fmt.Errorf("%w: tesseract not found on PATH", core.ErrOCRFailed)
	}

	prepared, err := preprocess(imageData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrOCRFailed, err)
	}

	path, cleanup, err := writeTempPNG(prepared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrOCRFailed, err)
	}
	defer cleanup()

	var best string
	var ranAny bool
	for i, psm := range attempts {
		text, runErr := e.runAttempt(ctx, path, psm)
		if runErr != nil {
			e.logger.Warn("ocr attempt failed", map[string]interface{}{"attempt": i + 1, "psm": psm, "error": runErr.Error()})
			continue
		}
		ranAny = true
		text = strings.Join(strings.Fields(text), " ")
		if len(text) > len(best) {
			best = text
		}
		if len(best) > goodEnoughLength {
			break
		}
	}

	if !ranAny {
		return "", fmt.Errorf("%w: all tesseract attempts failed to execute", core.ErrOCRFailed)
	}
	if len(strings.TrimSpace(best)) <= minUsableLength {
		return "", nil
	}
	return best, nil
}

func (e *Extractor) runAttempt(ctx context.Context, imagePath, psm string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout())
	defer cancel()

	// "stdout" as the output base tells tesseract to write the rendered
	// text straight to standard output instead of a file.
	cmd := exec.CommandContext(attemptCtx, e.binaryPath(), imagePath, "stdout",
		"-l", e.languages(), "--psm", psm)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("timed out after %s: %w", e.attemptTimeout(), attemptCtx.Err())
		}
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (e *Extractor) binaryPath() string {
	if e.BinaryPath != "" {
		return e.BinaryPath
	}
	return "tesseract"
}

func (e *Extractor) languages() string {
	if e.Languages != "" {
		return e.Languages
	}
	return "heb+eng"
}

func (e *Extractor) attemptTimeout() time.Duration {
	if e.AttemptTimeout > 0 {
		return e.AttemptTimeout
	}
	return 30 * time.Second
}

// preprocess decodes the image, scales it up if either dimension is below
// minDimension, and converts it to grayscale — the same two adjustments
// the source service applied before handing images to tesseract.
func preprocess(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < minDimension || height < minDimension {
		scale := float64(minDimension) / float64(width)
		if hScale := float64(minDimension) / float64(height); hScale > scale {
			scale = hScale
		}
		img = imaging.Resize(img, int(float64(width)*scale), int(float64(height)*scale), imaging.Lanczos)
	}

	return imaging.Grayscale(img), nil
}

func writeTempPNG(img image.Image) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "learnobot-ocr-*.png")
	if err != nil {
		return "", nil, err
	}
	tmpPath := f.Name()
	cleanup = func() { os.Remove(tmpPath) }

	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return filepath.Clean(tmpPath), cleanup, nil
}
