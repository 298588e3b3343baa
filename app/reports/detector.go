package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/pkg/logger"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Minute
)

// DefaultKeywords flag a transcript as spam when any of them occurs in it.
var DefaultKeywords = []string{
	"win", "giveaway", "congratulations", "prize", "https", ".com", "promo",
	"pump", "vote", "advertisement", "attn", "selling", "finance",
}

type TextExtractor interface {
	ExtractText(ctx context.Context, imageURL string) (string, error)
}

type Detection struct {
	// Text is the lower-cased transcript.
	Text    string
	Keyword string
	Spam    bool

	// Failed is set when every extraction attempt failed.
	Failed bool
}

// Detector runs OCR over a submitted screenshot and looks for spam keywords.
type Detector struct {
	Log        logger.Logger
	OCR        TextExtractor
	Metrics    *metrics.Metrics
	Keywords   []string
	Attempts   int
	RetryDelay time.Duration
}

// Detect extracts text from the image, retrying failed attempts. progress is
// called before each retry with the 1-based number of the failed attempt.
func (d *Detector) Detect(ctx context.Context, imageURL string, progress func(attempt, total int)) (Detection, error) {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var text string
	var err error
	for i := 1; i <= attempts; i++ {
		started := time.Now()
		text, err = d.OCR.ExtractText(ctx, imageURL)
		d.Metrics.ObserveExternal("ocr", time.Since(started), err)
		if err == nil {
			break
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Detection{}, fmt.Errorf("extracting text: %w", err)
		}

		d.Log.Warn("ocr attempt failed", "attempt", i, "url", imageURL, "error", err)
		if i == attempts {
			return Detection{Failed: true}, nil
		}

		if progress != nil {
			progress(i, attempts)
		}

		if !sleep(ctx, d.retryDelay()) {
			return Detection{}, ctx.Err()
		}
	}

	text = strings.ToLower(text)
	kw, ok := d.match(text)

	return Detection{Text: text, Keyword: kw, Spam: ok}, nil
}

func (d *Detector) match(text string) (string, bool) {
	keywords := d.Keywords
	if keywords == nil {
		keywords = DefaultKeywords
	}

	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}

	return "", false
}

func (d *Detector) retryDelay() time.Duration {
	if d.RetryDelay > 0 {
		return d.RetryDelay
	}
	return DefaultRetryDelay
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
