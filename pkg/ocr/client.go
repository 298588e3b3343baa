package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// ErrProcessing is returned when the service accepted the request but could
// not read the image.
var ErrProcessing = errors.New("ocr processing failed")

type Client struct {
	apiKey     string
	endpoint   string
	engine     Engine
	httpClient HTTPClient
	limiter    *rate.Limiter
}

func NewClient(apiKey string, httpClient HTTPClient) *Client {
	return &Client{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		engine:     EngineLatin,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
	}
}

// WithEndpoint points the client at a different service URL.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// ExtractText returns the text recognized on the image at imageURL.
func (c *Client) ExtractText(ctx context.Context, imageURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("url", imageURL)
	q.Set("OCREngine", string(c.engine))
	q.Set("scale", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("doing request: %w", err)
	}

	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		resBody, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("unexpected status code: %d: %s", res.StatusCode, resBody)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}

	var response Response
	if err = json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if response.IsErroredOnProcessing {
		return "", fmt.Errorf("%w: %s", ErrProcessing, strings.Join(response.ErrorMessage, "; "))
	}

	if len(response.ParsedResults) == 0 {
		return "", fmt.Errorf("%w: empty parsed results", ErrProcessing)
	}

	return response.ParsedResults[0].ParsedText, nil
}
