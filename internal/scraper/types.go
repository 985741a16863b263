package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SubmitRequest is the job submission body
type SubmitRequest struct {
	URL string `json:"url"`
}

// JobResponse is the terminal artifact set of a successful job
type JobResponse struct {
	Data        map[string]any    `json:"data"`
	Screenshots map[string]string `json:"screenshots"`
	ReportURL   string            `json:"report_url"`
}

// wireResponse tolerates both shapes the service has used for data and screenshots
type wireResponse struct {
	Data        json.RawMessage `json:"data"`
	Screenshots json.RawMessage `json:"screenshots"`
	ReportURL   *string         `json:"report_url"`
}

// serviceMessage is the error body shape: {"error": ...} or {"message": ...}
type serviceMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeJobResponse(body []byte) (*JobResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	data, err := decodeData(wire.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	screenshots, err := decodeScreenshots(wire.Screenshots)
	if err != nil {
		return nil, fmt.Errorf("screenshots: %w", err)
	}

	resp := &JobResponse{
		Data:        data,
		Screenshots: screenshots,
	}
	if wire.ReportURL != nil {
		resp.ReportURL = *wire.ReportURL
	}
	return resp, nil
}

// decodeData accepts an object, or a list of records which is kept under "records"
func decodeData(raw json.RawMessage) (map[string]any, error) {
	if isNull(raw) {
		return nil, nil
	}

	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	switch typed := value.(type) {
	case map[string]any:
		return typed, nil
	case []any:
		return map[string]any{"records": typed}, nil
	default:
		return nil, fmt.Errorf("expected object or list, got %T", value)
	}
}

// decodeScreenshots accepts a label-to-locator object, or a list of step names
// where each name is its own locator
func decodeScreenshots(raw json.RawMessage) (map[string]string, error) {
	if isNull(raw) {
		return nil, nil
	}

	var named map[string]string
	if err := json.Unmarshal(raw, &named); err == nil {
		return named, nil
	}

	var steps []string
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("expected object of strings or list of names")
	}
	if len(steps) == 0 {
		return map[string]string{}, nil
	}
	named = make(map[string]string, len(steps))
	for _, step := range steps {
		named[step] = step
	}
	return named, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
