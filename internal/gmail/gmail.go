// Package gmail reads a mailbox over the Gmail v1 REST API: unread listing,
// full message fetch with body extraction, and attachment download.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"homeserverd/internal/gauth"
	"homeserverd/internal/task"
	"homeserverd/pkg/logx"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

type Client struct {
	tokens  gauth.Source
	baseURL string
	http    *http.Client
	log     logx.Logger
}

func New(tokens gauth.Source, timeout time.Duration, log logx.Logger) *Client {
	return &Client{
		tokens:  tokens,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// WithBaseURL points the client at a different endpoint. Used by tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

func (c *Client) ListUnread(ctx context.Context, max int) ([]task.MessageRef, error) {
	params := url.Values{
		"q":          {"is:unread"},
		"maxResults": {strconv.Itoa(max)},
	}
	var page struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/users/me/messages?"+params.Encode(), &page); err != nil {
		return nil, err
	}
	refs := make([]task.MessageRef, 0, len(page.Messages))
	for _, m := range page.Messages {
		refs = append(refs, task.MessageRef{ID: m.ID})
	}
	return refs, nil
}

// messagePart mirrors the recursive Gmail payload structure.
type messagePart struct {
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		AttachmentID string `json:"attachmentId"`
		Size         int64  `json:"size"`
		Data         string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

func (c *Client) GetFull(ctx context.Context, id string) (task.Message, error) {
	var raw struct {
		ID      string      `json:"id"`
		Payload messagePart `json:"payload"`
	}
	u := c.baseURL + "/users/me/messages/" + url.PathEscape(id) + "?format=full"
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return task.Message{}, err
	}

	msg := task.Message{
		ID:      raw.ID,
		Subject: header(raw.Payload, "Subject"),
		From:    header(raw.Payload, "From"),
		Date:    header(raw.Payload, "Date"),
		Body:    extractBody(raw.Payload),
	}
	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}

	for _, ref := range findAttachments(raw.Payload) {
		data, err := c.fetchAttachment(ctx, id, ref.attachmentID)
		if err != nil {
			// One broken attachment should not sink the whole message.
			c.log.Warn("attachment fetch failed",
				logx.String("message", id),
				logx.String("filename", ref.filename),
				logx.Err(err))
			continue
		}
		msg.Attachments = append(msg.Attachments, task.Attachment{
			Filename: ref.filename,
			MimeType: ref.mimeType,
			Data:     data,
		})
	}
	return msg, nil
}

func header(p messagePart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var (
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// extractBody walks the payload preferring text/plain, falling back to
// tag-stripped text/html, recursing into nested multiparts.
func extractBody(p messagePart) string {
	if p.Body.Data != "" && len(p.Parts) == 0 && p.Filename == "" {
		if text, err := decodeBody(p.Body.Data); err == nil {
			if strings.HasPrefix(p.MimeType, "text/html") {
				return stripHTML(text)
			}
			return text
		}
	}
	var htmlFallback string
	for _, part := range p.Parts {
		switch {
		case part.MimeType == "text/plain" && part.Body.Data != "":
			if text, err := decodeBody(part.Body.Data); err == nil {
				return text
			}
		case part.MimeType == "text/html" && part.Body.Data != "" && htmlFallback == "":
			if text, err := decodeBody(part.Body.Data); err == nil {
				htmlFallback = stripHTML(text)
			}
		case len(part.Parts) > 0:
			if nested := extractBody(part); nested != "" {
				return nested
			}
		}
	}
	return htmlFallback
}

func stripHTML(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(htmlTags.ReplaceAllString(s, " "), " "))
}

type attachmentRef struct {
	filename     string
	mimeType     string
	attachmentID string
}

func findAttachments(p messagePart) []attachmentRef {
	var out []attachmentRef
	for _, part := range p.Parts {
		if part.Filename != "" && part.Body.AttachmentID != "" {
			out = append(out, attachmentRef{
				filename:     part.Filename,
				mimeType:     part.MimeType,
				attachmentID: part.Body.AttachmentID,
			})
		}
		if len(part.Parts) > 0 {
			out = append(out, findAttachments(part)...)
		}
	}
	return out
}

func (c *Client) fetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body struct {
		Data string `json:"data"`
	}
	u := c.baseURL + "/users/me/messages/" + url.PathEscape(messageID) +
		"/attachments/" + url.PathEscape(attachmentID)
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	return decodeBase64URL(body.Data)
}

func decodeBody(data string) (string, error) {
	b, err := decodeBase64URL(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeBase64URL handles Gmail's URL-safe base64, padded or not.
func decodeBase64URL(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gmail api: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("gmail api: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
