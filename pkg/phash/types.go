package phash

import (
	"net/http"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// MetadataResponse is the subset of the image metadata endpoint response we use.
type MetadataResponse struct {
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Format string `json:"format"`
	PHash  string `json:"pHash"`
}

const DefaultEndpoint = "https://api.imagekit.io/v1/metadata"
