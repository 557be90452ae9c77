package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/maauso/subclean-api/internal/server"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// apiClient talks to the subclean HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, c *http.Client) *apiClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &apiClient{base: base, http: c}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}

// send executes req and decodes a JSON response into out when out is non-nil.
func (c *apiClient) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}
	var body server.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *apiClient) listTasks(ctx context.Context, status string, page, pageSize int) (server.TaskListResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out server.TaskListResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) getTask(ctx context.Context, id string) (server.TaskResponse, error) {
	var out server.TaskResponse
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *apiClient) stats(ctx context.Context) (server.StatsResponse, error) {
	var out server.StatsResponse
	err := c.doJSON(ctx, http.MethodGet, "/tasks/stats", nil, &out)
	return out, err
}

func (c *apiClient) cancelTask(ctx context.Context, id string) (server.TaskResponse, error) {
	var out server.TaskResponse
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel", nil, &out)
	return out, err
}

func (c *apiClient) deleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) process(ctx context.Context, id string, req server.ProcessRequest) (server.TaskResponse, error) {
	var out server.TaskResponse
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/process", req, &out)
	return out, err
}

// upload streams a video file as multipart form data.
func (c *apiClient) upload(ctx context.Context, path, algorithm string) (server.UploadResponse, error) {
	var out server.UploadResponse

	f, err := os.Open(path) // #nosec G304 - path is supplied by the user
	if err != nil {
		return out, fmt.Errorf("open video: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadBody(mw, f, filepath.Base(path), algorithm))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		_ = pr.Close()
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.send(req, &out)
	_ = pr.Close()
	return out, err
}

func writeUploadBody(mw *multipart.Writer, src io.Reader, filename, algorithm string) error {
	if algorithm != "" {
		if err := mw.WriteField("algorithm", algorithm); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// download writes the processed video of a task to w.
func (c *apiClient) download(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("write video: %w", err)
	}
	return n, nil
}
