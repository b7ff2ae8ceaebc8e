package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

// DedupLedger is the durable processed-item set the email handler gates on.
type DedupLedger interface {
	SeenDedup(ctx context.Context, key string) (bool, error)
	MarkDedup(ctx context.Context, key string) error
}

// EmailCheckOptions carry operator defaults for the email pipeline.
type EmailCheckOptions struct {
	// ArchiveFolder receives a plain-text transcript of every processed email.
	ArchiveFolder string
	// AttachmentFolder is the fallback destination for unclassified attachments.
	AttachmentFolder string
	// MaxMessages bounds how many unread items one run inspects.
	MaxMessages int
}

// EmailCheck polls the mailbox for unread items and, for each item not yet in
// the dedup ledger: summarizes the body, classifies and uploads attachments,
// archives the raw text, emits a notification, and finally marks the item
// processed. One item's failure never aborts its siblings.
//
// The ledger is written only after an item's side effects have committed, so
// a crash mid-item re-processes it on the next run (at-least-once).
type EmailCheck struct {
	mail  Mailbox
	ai    Completer
	drive Drive
	dedup DedupLedger
	notes NotificationSink
	bus   Publisher
	opts  EmailCheckOptions
	log   logx.Logger
}

func NewEmailCheck(mail Mailbox, ai Completer, drive Drive, dedup DedupLedger, notes NotificationSink, bus Publisher, opts EmailCheckOptions, log logx.Logger) *EmailCheck {
	if opts.ArchiveFolder == "" {
		opts.ArchiveFolder = "email-archive"
	}
	if opts.AttachmentFolder == "" {
		opts.AttachmentFolder = "email-attachments"
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	return &EmailCheck{mail: mail, ai: ai, drive: drive, dedup: dedup, notes: notes, bus: bus, opts: opts, log: log}
}

func (e *EmailCheck) Execute(ctx context.Context, _ Config) (string, error) {
	if e.mail == nil {
		return "", errors.New("mailbox is not configured")
	}

	refs, err := e.mail.ListUnread(ctx, e.opts.MaxMessages)
	if err != nil {
		return "", fmt.Errorf("list unread: %w", err)
	}
	if len(refs) == 0 {
		return "no new mail", nil
	}

	var processed, failed, skipped int
	for _, ref := range refs {
		seen, err := e.dedup.SeenDedup(ctx, ref.ID)
		if err != nil {
			return "", fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			skipped++
			continue
		}
		if err := e.processOne(ctx, ref.ID); err != nil {
			failed++
			e.log.Warn("email processing failed", logx.String("message", ref.ID), logx.Err(err))
			continue
		}
		processed++
	}

	msg := fmt.Sprintf("processed %d emails", processed)
	if skipped > 0 {
		msg += fmt.Sprintf(", %d already handled", skipped)
	}
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}
	return msg, nil
}

func (e *EmailCheck) processOne(ctx context.Context, id string) error {
	msg, err := e.mail.GetFull(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	summary := e.summarize(ctx, msg)

	uploads := 0
	for _, att := range msg.Attachments {
		if err := e.uploadAttachment(ctx, msg.Subject, att); err != nil {
			// Attachment failures are isolated per item too.
			e.log.Warn("attachment upload failed",
				logx.String("message", id), logx.String("file", att.Filename), logx.Err(err))
			continue
		}
		uploads++
	}

	// The archive must land before the item counts as processed; failing it
	// leaves the item unmarked so the next run retries the whole pipeline.
	if err := e.archive(ctx, msg, summary); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	if e.notes != nil {
		if err := e.notes.AddNotification(ctx, storage.Notification{
			Type:    "email",
			Title:   msg.Subject,
			Message: fmt.Sprintf("From: %s\nSummary: %s", msg.From, summary),
		}); err != nil {
			e.log.Warn("email notification store failed", logx.Err(err))
		}
	}
	e.bus.Publish("email-notification", map[string]any{
		"subject":     msg.Subject,
		"from":        msg.From,
		"summary":     summary,
		"date":        msg.Date,
		"messageId":   msg.ID,
		"attachments": len(msg.Attachments),
		"uploads":     uploads,
	})

	// Mark processed last: every side effect above has committed.
	if err := e.dedup.MarkDedup(ctx, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (e *EmailCheck) summarize(ctx context.Context, msg Message) string {
	if e.ai == nil {
		return "(summary unavailable)"
	}
	body := truncateRunes(msg.Body, 3000)
	prompt := fmt.Sprintf(`Summarize this email in at most three lines. Mention any required action.

Subject: %s
From: %s
Body:
%s

Summary:`, msg.Subject, msg.From, body)

	out, err := e.ai.Complete(ctx, CompleteRequest{Prompt: prompt})
	if err != nil {
		// Summarization is advisory; the rest of the pipeline continues.
		e.log.Warn("email summary failed", logx.Err(err))
		return "(summary unavailable)"
	}
	return strings.TrimSpace(out)
}

// classification maps an attachment to a destination folder.
type classification struct {
	Category   string `json:"category"`
	FolderName string `json:"folderName"`
}

func (e *EmailCheck) classify(ctx context.Context, subject string, att Attachment) classification {
	ext := strings.ToLower(filepath.Ext(att.Filename))

	// Extension-based defaults.
	cls := classification{Category: "other", FolderName: e.opts.AttachmentFolder}
	switch ext {
	case ".xlsx", ".xls", ".csv":
		cls = classification{Category: "finance", FolderName: "finance"}
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		cls = classification{Category: "image", FolderName: "images"}
	case ".pdf", ".doc", ".docx":
		cls = classification{Category: "document", FolderName: "documents"}
		// Document types get an AI override attempt on top of the default.
		if e.ai != nil {
			if got, ok := e.classifyWithAI(ctx, subject, att); ok {
				cls = got
			}
		}
	}
	return cls
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

func (e *EmailCheck) classifyWithAI(ctx context.Context, subject string, att Attachment) (classification, bool) {
	sample := truncateRunes(string(att.Data), 2000)
	prompt := fmt.Sprintf(`Filename: %s
Email subject: %s
Content sample: %s

Reply with JSON only: {"category":"finance|contract|support|marketing|hr|other","folderName":"destination folder"}`,
		att.Filename, subject, sample)

	out, err := e.ai.Complete(ctx, CompleteRequest{Prompt: prompt})
	if err != nil {
		return classification{}, false
	}
	raw := jsonObject.FindString(out)
	if raw == "" {
		return classification{}, false
	}
	var cls classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil || cls.FolderName == "" {
		return classification{}, false
	}
	if cls.Category == "" {
		cls.Category = "other"
	}
	return cls, true
}

func (e *EmailCheck) uploadAttachment(ctx context.Context, subject string, att Attachment) error {
	if e.drive == nil {
		return errors.New("drive is not configured")
	}
	cls := e.classify(ctx, subject, att)

	folder, err := e.findOrCreateFolder(ctx, cls.FolderName)
	if err != nil {
		return err
	}
	if _, err := e.drive.Upload(ctx, att.Filename, att.Data, folder.ID); err != nil {
		return err
	}
	e.bus.Publish("email-drive-upload", map[string]any{
		"filename": att.Filename,
		"category": cls.Category,
		"folder":   cls.FolderName,
	})
	return nil
}

func (e *EmailCheck) archive(ctx context.Context, msg Message, summary string) error {
	if e.drive == nil {
		return errors.New("drive is not configured")
	}
	folder, err := e.findOrCreateFolder(ctx, e.opts.ArchiveFolder)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n[Summary]\n%s\n\n[Body]\n%s\n",
		msg.Subject, msg.From, msg.Date, summary, truncateRunes(msg.Body, 5000))
	name := time.Now().Format("2006-01-02") + "_" + sanitizeName(msg.Subject) + ".txt"
	_, err = e.drive.Upload(ctx, name, []byte(content), folder.ID)
	return err
}

func (e *EmailCheck) findOrCreateFolder(ctx context.Context, name string) (FileMeta, error) {
	folder, err := e.drive.FindFolder(ctx, name, "")
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, ErrRemoteNotFound) {
		return FileMeta{}, err
	}
	return e.drive.CreateFolder(ctx, name, "")
}

var unsafeName = regexp.MustCompile(`[^\w-]+`)

func sanitizeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "untitled"
	}
	return truncateRunes(s, 50)
}
