package task

import (
	"context"
	"errors"
	"strings"
	"testing"

	"homeserverd/pkg/logx"
)

func newEmailCheck(mail Mailbox, dedup DedupLedger, drive *fakeDrive, bus *fakeBus, notes *memNotes) *EmailCheck {
	return NewEmailCheck(mail, &fakeCompleter{reply: "short summary"}, drive, dedup, notes, bus,
		EmailCheckOptions{}, logx.Nop())
}

func TestEmailCheckSkipsAlreadyProcessed(t *testing.T) {
	t.Parallel()
	mail := newFakeMailbox(
		Message{ID: "old", Subject: "seen before", From: "a@example.com", Body: "hello"},
		Message{ID: "new", Subject: "fresh", From: "b@example.com", Body: "world"},
	)
	dedup := newMemDedup("old")
	drive := newFakeDrive()
	bus := &fakeBus{}
	notes := &memNotes{}

	out, err := newEmailCheck(mail, dedup, drive, bus, notes).Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "processed 1") {
		t.Fatalf("outcome = %q", out)
	}
	// Exactly one new dedup entry and one notification, for the new item only.
	if !dedup.keys["new"] {
		t.Fatal("new message not marked processed")
	}
	if bus.byType("email-notification") != 1 {
		t.Fatalf("email-notification events = %d, want 1", bus.byType("email-notification"))
	}
	if len(notes.notes) != 1 || notes.notes[0].Title != "fresh" {
		t.Fatalf("notifications = %+v", notes.notes)
	}
}

func TestEmailCheckPartialBatchFailure(t *testing.T) {
	t.Parallel()
	mail := newFakeMailbox(
		Message{ID: "bad", Subject: "broken"},
		Message{ID: "good", Subject: "fine", From: "x@example.com", Body: "body"},
	)
	mail.getErr["bad"] = errors.New("fetch exploded")
	dedup := newMemDedup()
	bus := &fakeBus{}

	out, err := newEmailCheck(mail, dedup, newFakeDrive(), bus, &memNotes{}).Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("sibling failure must not abort the run: %v", err)
	}
	if !strings.Contains(out, "processed 1") || !strings.Contains(out, "1 failed") {
		t.Fatalf("outcome = %q", out)
	}
	if dedup.keys["bad"] {
		t.Fatal("failed item must not be marked processed")
	}
	if !dedup.keys["good"] {
		t.Fatal("good item should be marked processed")
	}
}

func TestEmailCheckArchiveFailureLeavesItemUnmarked(t *testing.T) {
	t.Parallel()
	mail := newFakeMailbox(Message{ID: "m1", Subject: "keep me", From: "a@example.com", Body: "body"})
	dedup := newMemDedup()
	drive := newFakeDrive()
	drive.findErr = errors.New("drive is down")

	out, err := newEmailCheck(mail, dedup, drive, &fakeBus{}, &memNotes{}).Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "1 failed") {
		t.Fatalf("outcome = %q", out)
	}
	// The transcript never landed, so the item must be retried next run.
	if dedup.keys["m1"] {
		t.Fatal("item marked processed although the archive never committed")
	}
}

func TestEmailCheckUploadsAttachmentsByClassification(t *testing.T) {
	t.Parallel()
	mail := newFakeMailbox(Message{
		ID: "m1", Subject: "invoices", From: "acct@example.com", Body: "see attached",
		Attachments: []Attachment{
			{Filename: "q3.xlsx", MimeType: "application/vnd.ms-excel", Data: []byte("numbers")},
			{Filename: "cat.png", MimeType: "image/png", Data: []byte("img")},
		},
	})
	drive := newFakeDrive()
	bus := &fakeBus{}

	if _, err := newEmailCheck(mail, newMemDedup(), drive, bus, &memNotes{}).Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantUploads := map[string]bool{"finance/q3.xlsx": false, "images/cat.png": false}
	for _, u := range drive.uploads {
		if _, ok := wantUploads[u]; ok {
			wantUploads[u] = true
		}
	}
	for u, seen := range wantUploads {
		if !seen {
			t.Errorf("missing upload %q (got %v)", u, drive.uploads)
		}
	}
	if bus.byType("email-drive-upload") != 2 {
		t.Fatalf("upload events = %d, want 2", bus.byType("email-drive-upload"))
	}
	// Archive transcript lands in the fixed folder.
	if _, ok := drive.folders["email-archive"]; !ok {
		t.Fatal("archive folder was not created")
	}
}

func TestEmailCheckAIClassificationOverride(t *testing.T) {
	t.Parallel()
	mail := newFakeMailbox(Message{
		ID: "m1", Subject: "contract renewal", Body: "b",
		Attachments: []Attachment{{Filename: "terms.pdf", Data: []byte("contract text")}},
	})
	drive := newFakeDrive()
	ec := NewEmailCheck(mail,
		&fakeCompleter{reply: `{"category":"contract","folderName":"contracts"}`},
		drive, newMemDedup(), &memNotes{}, &fakeBus{}, EmailCheckOptions{}, logx.Nop())

	if _, err := ec.Execute(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, u := range drive.uploads {
		if u == "contracts/terms.pdf" {
			found = true
		}
	}
	if !found {
		t.Fatalf("AI override ignored; uploads = %v", drive.uploads)
	}
}

func TestEmailCheckNoMail(t *testing.T) {
	t.Parallel()
	out, err := newEmailCheck(newFakeMailbox(), newMemDedup(), newFakeDrive(), &fakeBus{}, &memNotes{}).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "no new mail" {
		t.Fatalf("outcome = %q", out)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	if got := sanitizeName("Re: invoice #42 (final)"); strings.ContainsAny(got, ":#() ") {
		t.Fatalf("sanitizeName left unsafe chars: %q", got)
	}
	if got := sanitizeName("!!!"); got != "untitled" {
		t.Fatalf("empty sanitize = %q", got)
	}
}
