package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homeserverd/internal/storage"
)

// ---- shared fakes for handler tests ----

type fakeBus struct {
	mu     sync.Mutex
	events []struct {
		Type string
		Data any
	}
}

func (b *fakeBus) Publish(eventType string, data any) {
	b.mu.Lock()
	b.events = append(b.events, struct {
		Type string
		Data any
	}{eventType, data})
	b.mu.Unlock()
}

func (b *fakeBus) byType(t string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeSampler struct {
	stats Stats
	err   error
}

func (s fakeSampler) Sample(context.Context) (Stats, error) { return s.stats, s.err }

type memMetrics struct {
	mu      sync.Mutex
	samples []storage.MetricSample
}

func (m *memMetrics) AppendMetric(_ context.Context, s storage.MetricSample) error {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	return nil
}

func (m *memMetrics) MetricsSince(_ context.Context, cutoff time.Time) ([]storage.MetricSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.MetricSample
	for _, s := range m.samples {
		if !s.RecordedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memNotes struct {
	mu    sync.Mutex
	notes []storage.Notification
}

func (n *memNotes) AddNotification(_ context.Context, note storage.Notification) error {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
	return nil
}

type memDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDedup(seed ...string) *memDedup {
	d := &memDedup{keys: map[string]bool{}}
	for _, k := range seed {
		d.keys[k] = true
	}
	return d
}

func (d *memDedup) SeenDedup(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key], nil
}

func (d *memDedup) MarkDedup(_ context.Context, key string) error {
	d.mu.Lock()
	d.keys[key] = true
	d.mu.Unlock()
	return nil
}

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (c *fakeCompleter) Complete(context.Context, CompleteRequest) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// fakeDrive is an in-memory Drive keyed by folder name.
type fakeDrive struct {
	mu      sync.Mutex
	seq     int
	folders map[string]FileMeta   // name -> folder
	files   map[string][]FileMeta // folderID -> files
	blobs   map[string][]byte     // fileID -> content
	uploads []string              // "folderName/fileName" in upload order
	listErr error
	findErr error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders: map[string]FileMeta{},
		files:   map[string][]FileMeta{},
		blobs:   map[string][]byte{},
	}
}

func (d *fakeDrive) nextID() string {
	d.seq++
	return fmt.Sprintf("id-%d", d.seq)
}

func (d *fakeDrive) addRemoteFile(folderID, name string, data []byte, modified time.Time) FileMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := FileMeta{ID: d.nextID(), Name: name, Modified: modified, Size: int64(len(data))}
	d.files[folderID] = append(d.files[folderID], f)
	d.blobs[f.ID] = data
	return f
}

func (d *fakeDrive) ListChildren(_ context.Context, folderID string) ([]FileMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]FileMeta(nil), d.files[folderID]...), nil
}

func (d *fakeDrive) Download(_ context.Context, fileID string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blobs[fileID]
	if !ok {
		return nil, ErrRemoteNotFound
	}
	return b, nil
}

func (d *fakeDrive) Upload(_ context.Context, name string, data []byte, parentID string) (FileMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := FileMeta{ID: d.nextID(), Name: name, Modified: time.Now(), Size: int64(len(data))}
	d.files[parentID] = append(d.files[parentID], f)
	d.blobs[f.ID] = data
	folderName := parentID
	for n, meta := range d.folders {
		if meta.ID == parentID {
			folderName = n
		}
	}
	d.uploads = append(d.uploads, folderName+"/"+name)
	return f, nil
}

func (d *fakeDrive) CreateFolder(_ context.Context, name, _ string) (FileMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := FileMeta{ID: d.nextID(), Name: name, Folder: true}
	d.folders[name] = f
	return f, nil
}

func (d *fakeDrive) FindFolder(_ context.Context, name, _ string) (FileMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return FileMeta{}, d.findErr
	}
	f, ok := d.folders[name]
	if !ok {
		return FileMeta{}, ErrRemoteNotFound
	}
	return f, nil
}

type fakeMailbox struct {
	msgs    map[string]Message
	order   []string
	listErr error
	getErr  map[string]error
}

func newFakeMailbox(msgs ...Message) *fakeMailbox {
	m := &fakeMailbox{msgs: map[string]Message{}, getErr: map[string]error{}}
	for _, msg := range msgs {
		m.msgs[msg.ID] = msg
		m.order = append(m.order, msg.ID)
	}
	return m
}

func (m *fakeMailbox) ListUnread(_ context.Context, max int) ([]MessageRef, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var refs []MessageRef
	for _, id := range m.order {
		if len(refs) >= max {
			break
		}
		refs = append(refs, MessageRef{ID: id})
	}
	return refs, nil
}

func (m *fakeMailbox) GetFull(_ context.Context, id string) (Message, error) {
	if err := m.getErr[id]; err != nil {
		return Message{}, err
	}
	msg, ok := m.msgs[id]
	if !ok {
		return Message{}, fmt.Errorf("no such message %q", id)
	}
	return msg, nil
}

type fakeRunner struct {
	result RunResult
	err    error
	gotCmd string
}

func (r *fakeRunner) Run(_ context.Context, command string, _ time.Duration) (RunResult, error) {
	r.gotCmd = command
	return r.result, r.err
}
