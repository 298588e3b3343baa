package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"nuclight.org/gatekeeper/app/reports"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/ocr"
)

var opts struct {
	OCRAPIKey string `long:"ocr-api-key" env:"OCR_API_KEY" required:"true" description:"ocr.space api key"`
	File      string `short:"f" long:"file" description:"file with one image url per line, - for stdin"`
	Attempts  int    `long:"attempts" default:"1" description:"ocr attempts per image"`
	ShowText  bool   `long:"show-text" description:"log the recognized text"`
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"debug" description:"debug, info, warn or error"`
	Args      struct {
		URLs []string `positional-arg-name:"url"`
	} `positional-args:"yes"`
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)
	log.Info("starting ocr check")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	urls := opts.Args.URLs
	if opts.File != "" {
		fromFile, err := readURLs(opts.File)
		if err != nil {
			log.Error("reading url file", "error", err)
			os.Exit(1)
		}
		urls = append(urls, fromFile...)
	}

	if len(urls) == 0 {
		log.Info("no images to check")
		os.Exit(0)
	}

	detector := &reports.Detector{
		Log:        log,
		OCR:        ocr.NewClient(opts.OCRAPIKey, &http.Client{Timeout: 60 * time.Second}),
		Attempts:   opts.Attempts,
		RetryDelay: 5 * time.Second,
	}
	locator := reports.NewLocator()

	var spam, failed, located int

	for i, url := range urls {
		det, err := detector.Detect(ctx, url, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("detecting spam", "error", err, "url", url)
			continue
		}

		if det.Failed {
			failed++
			log.Warn("ocr failed", "n", i+1, "url", url)
			continue
		}

		if opts.ShowText {
			log.Debug("recognized text", "url", url, "text", det.Text)
		}

		if !det.Spam {
			log.Info("no keyword", "n", i+1, "url", url)
			continue
		}
		spam++

		candidates := locator.Locate(det.Text)
		if len(candidates) > 0 {
			located++
		}

		log.Info("spam detected", "n", i+1, "url", url, "keyword", det.Keyword, "candidates", candidates)
	}

	log.Info("done",
		"images", len(urls),
		"spam", spam,
		"located", located,
		"failed", failed,
	)
}

func readURLs(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, err
		}
		defer f.Close()
	}

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}

	return urls, sc.Err()
}
