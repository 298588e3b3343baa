package ocr

import (
	"encoding/json"
	"net/http"
	"strings"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type Response struct {
	ParsedResults         []ParsedResult `json:"ParsedResults"`
	OCRExitCode           int            `json:"OCRExitCode"`
	IsErroredOnProcessing bool           `json:"IsErroredOnProcessing"`
	ErrorMessage          ErrorMessages  `json:"ErrorMessage"`
}

type ParsedResult struct {
	ParsedText        string `json:"ParsedText"`
	FileParseExitCode int    `json:"FileParseExitCode"`
	ErrorMessage      string `json:"ErrorMessage"`
}

// ErrorMessages accepts both a string and a list of strings.
type ErrorMessages []string

func (m *ErrorMessages) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*m = nil
		return nil
	}

	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}

	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*m = []string{one}
	return nil
}

type Engine string

const (
	EngineDefault Engine = "1"
	EngineLatin   Engine = "2"
)

const DefaultEndpoint = "https://api.ocr.space/parse/imageurl"
