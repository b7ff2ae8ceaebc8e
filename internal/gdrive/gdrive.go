// Package gdrive is a thin Drive v3 REST client covering what the sync and
// email jobs need: list, download, multipart upload, folder find-or-create.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"homeserverd/internal/gauth"
	"homeserverd/internal/task"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	folderMimeType = "application/vnd.google-apps.folder"
)

type Client struct {
	tokens    gauth.Source
	baseURL   string
	uploadURL string
	http      *http.Client
}

func New(tokens gauth.Source, timeout time.Duration) *Client {
	return &Client{
		tokens:    tokens,
		baseURL:   defaultBaseURL,
		uploadURL: defaultUploadURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// WithBaseURLs redirects both endpoints. Used by tests.
func (c *Client) WithBaseURLs(base, upload string) *Client {
	c.baseURL = base
	c.uploadURL = upload
	return c
}

// fileResource is the Drive files resource subset we read.
type fileResource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
	Size         string `json:"size"`
}

func (f fileResource) toMeta() task.FileMeta {
	m := task.FileMeta{ID: f.ID, Name: f.Name, Folder: f.MimeType == folderMimeType}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		m.Modified = t
	}
	if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
		m.Size = n
	}
	return m
}

func (c *Client) ListChildren(ctx context.Context, folderID string) ([]task.FileMeta, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	var out []task.FileMeta
	pageToken := ""
	for {
		params := url.Values{
			"q":      {q},
			"fields": {"nextPageToken, files(id, name, mimeType, modifiedTime, size)"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		var page struct {
			NextPageToken string         `json:"nextPageToken"`
			Files         []fileResource `json:"files"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/files?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		for _, f := range page.Files {
			out = append(out, f.toMeta())
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/files/"+url.PathEscape(fileID)+"?alt=media", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, task.ErrRemoteNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Upload creates a file under parentID using a multipart/related request:
// first part JSON metadata, second part raw content.
func (c *Client) Upload(ctx context.Context, name string, data []byte, parentID string) (task.FileMeta, error) {
	meta := map[string]any{"name": name}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return task.FileMeta{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	pw, err := mw.CreatePart(metaHeader)
	if err != nil {
		return task.FileMeta{}, err
	}
	if _, err := pw.Write(metaJSON); err != nil {
		return task.FileMeta{}, err
	}

	dataHeader := textproto.MIMEHeader{}
	dataHeader.Set("Content-Type", "application/octet-stream")
	pw, err = mw.CreatePart(dataHeader)
	if err != nil {
		return task.FileMeta{}, err
	}
	if _, err := pw.Write(data); err != nil {
		return task.FileMeta{}, err
	}
	if err := mw.Close(); err != nil {
		return task.FileMeta{}, err
	}

	u := c.uploadURL + "/files?uploadType=multipart&fields=" + url.QueryEscape("id, name, modifiedTime, size")
	resp, err := c.do(ctx, http.MethodPost, u, "multipart/related; boundary="+mw.Boundary(), &body)
	if err != nil {
		return task.FileMeta{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return task.FileMeta{}, apiError(resp)
	}
	var created fileResource
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return task.FileMeta{}, err
	}
	return created.toMeta(), nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (task.FileMeta, error) {
	meta := map[string]any{"name": name, "mimeType": folderMimeType}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return task.FileMeta{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/files?fields="+url.QueryEscape("id, name, mimeType"),
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return task.FileMeta{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return task.FileMeta{}, apiError(resp)
	}
	var created fileResource
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return task.FileMeta{}, err
	}
	return created.toMeta(), nil
}

func (c *Client) FindFolder(ctx context.Context, name, parentID string) (task.FileMeta, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), folderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", parentID)
	}
	params := url.Values{
		"q":      {q},
		"fields": {"files(id, name, mimeType)"},
	}
	var page struct {
		Files []fileResource `json:"files"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/files?"+params.Encode(), &page); err != nil {
		return task.FileMeta{}, err
	}
	if len(page.Files) == 0 {
		return task.FileMeta{}, task.ErrRemoteNotFound
	}
	return page.Files[0].toMeta(), nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader) (*http.Response, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive request: %w", err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return fmt.Errorf("drive api: %s (status %d)", body.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("drive api: unexpected status %d", resp.StatusCode)
}

// escapeQuery escapes single quotes inside a Drive query literal.
func escapeQuery(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
