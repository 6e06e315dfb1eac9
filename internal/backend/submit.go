package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	// MaxSubmitFiles is the most page images one submission may carry.
	MaxSubmitFiles = 10

	defaultNewspaperName = "Unknown Newspaper"
)

// Upload is one page image to send to the OCR pipeline.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SubmitRequest is a newspaper OCR submission.
type SubmitRequest struct {
	Files         []Upload
	NewspaperDate string
	NewspaperName string
}

// Validate checks the request shape before anything is sent.
func (r SubmitRequest) Validate() error {
	if n := len(r.Files); n < 1 || n > MaxSubmitFiles {
		return fmt.Errorf("%w: expected 1-%d files, got %d", ErrInvalidSubmission, MaxSubmitFiles, n)
	}
	if strings.TrimSpace(r.NewspaperDate) == "" {
		return fmt.Errorf("%w: newspaper date is required", ErrInvalidSubmission)
	}
	for i, f := range r.Files {
		if f.Content == nil {
			return fmt.Errorf("%w: file %d has no content", ErrInvalidSubmission, i)
		}
	}
	return nil
}

// SubmitResult is the backend's answer once the submission call settles.
type SubmitResult struct {
	JobID              string `json:"job_id"`
	MongoDBID          string `json:"mongodb_id,omitempty"`
	SummariesGenerated bool   `json:"summaries_generated"`
	Message            string `json:"message,omitempty"`
}

// SubmitNewspaper uploads page images as multipart/form-data. The body is
// streamed through a pipe so large scans are never buffered whole.
func (c *HTTPClient) SubmitNewspaper(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.NewspaperName)
	if name == "" {
		name = defaultNewspaperName
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeSubmitForm(mw, req, name))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ocr/process-newspaper", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.submit.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding submit response: %w", err)
	}
	return &result, nil
}

func writeSubmitForm(mw *multipart.Writer, req SubmitRequest, name string) error {
	for i, f := range req.Files {
		filename := f.Filename
		if filename == "" {
			filename = fmt.Sprintf("page-%d.jpg", i+1)
		}
		part, err := mw.CreateFormFile("images", filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copy %s: %w", filename, err)
		}
	}
	if err := mw.WriteField("newspaper_date", req.NewspaperDate); err != nil {
		return err
	}
	if err := mw.WriteField("newspaper_name", name); err != nil {
		return err
	}
	return mw.Close()
}
