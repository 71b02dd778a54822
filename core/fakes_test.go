package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/metadata"
)

// memStorage is an in-memory backend with failure injection
type memStorage struct {
	mu     sync.Mutex
	files  map[string][]byte
	mtimes map[string]time.Time

	existsErr error
	openErr   error
	closeErr  error
	deleteErr error
	touchErr  error
	statErr   error
	// failAfter makes writes fail once this many bytes were written; <0 disables
	failAfter int64
	// onWrite runs on every Write call
	onWrite func()
	// abortable makes OpenWriter hand out sinks that implement backends.Aborter
	abortable bool

	opens   int
	deletes int
	closes  int
	aborts  int
}

func newMemStorage() *memStorage {
	return &memStorage{
		files:     make(map[string][]byte),
		mtimes:    make(map[string]time.Time),
		failAfter: -1,
	}
}

var errDiskFull = errors.New("disk quota exceeded")

func (s *memStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) OpenWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.files[path] = nil
	s.mtimes[path] = time.Now().UTC()
	w := &memWriter{s: s, path: path}
	if s.abortable {
		return &abortingWriter{memWriter: w}, nil
	}
	return w, nil
}

func (s *memStorage) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.files[path]
	return ok, nil
}

func (s *memStorage) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return nil, s.statErr
	}
	data, ok := s.files[path]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &metadata.Metadata{
		Name:  metadata.BaseName(path),
		Path:  path,
		Type:  metadata.TypeFile,
		Size:  int64(len(data)),
		MTime: s.mtimes[path],
	}, nil
}

func (s *memStorage) Touch(ctx context.Context, path string, mtime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	if _, ok := s.files[path]; !ok {
		return metadata.ErrNotFound
	}
	s.mtimes[path] = mtime
	return nil
}

func (s *memStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.files[path]; !ok {
		return metadata.ErrNotFound
	}
	delete(s.files, path)
	delete(s.mtimes, path)
	return nil
}

func (s *memStorage) Close() error { return nil }

func (s *memStorage) put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), data...)
	s.mtimes[path] = time.Now().UTC()
}

func (s *memStorage) content(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, ok
}

type memWriter struct {
	s    *memStorage
	path string
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.s.onWrite != nil {
		w.s.onWrite()
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	cur := int64(len(w.s.files[w.path]))
	if w.s.failAfter >= 0 && cur+int64(len(p)) > w.s.failAfter {
		n := w.s.failAfter - cur
		if n < 0 {
			n = 0
		}
		w.s.files[w.path] = append(w.s.files[w.path], p[:n]...)
		return int(n), errDiskFull
	}
	w.s.files[w.path] = append(w.s.files[w.path], p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.closes++
	return w.s.closeErr
}

// abortingWriter discards everything written when aborted
type abortingWriter struct {
	*memWriter
}

func (w *abortingWriter) Abort(cause error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.aborts++
	delete(w.s.files, w.path)
	delete(w.s.mtimes, w.path)
}

// memStore is an in-memory metadata.Store
type memStore struct {
	mu      sync.Mutex
	entries map[string]*metadata.Metadata
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*metadata.Metadata)}
}

func (m *memStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.entries[path]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	cp := *md
	return &cp, nil
}

func (m *memStore) Create(ctx context.Context, md *metadata.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[md.Path]; ok {
		return metadata.ErrAlreadyExists
	}
	m.nextID++
	md.ID = m.nextID
	md.CreatedAt = time.Now().UTC()
	md.UpdatedAt = md.CreatedAt
	cp := *md
	m.entries[md.Path] = &cp
	return nil
}

func (m *memStore) Update(ctx context.Context, md *metadata.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[md.Path]
	if !ok {
		return metadata.ErrNotFound
	}
	md.ID = cur.ID
	md.UpdatedAt = time.Now().UTC()
	cp := *md
	m.entries[md.Path] = &cp
	return nil
}

func (m *memStore) Modify(ctx context.Context, path string, fn func(md *metadata.Metadata)) (*metadata.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[path]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	cp := *cur
	fn(&cp)
	cp.UpdatedAt = time.Now().UTC()
	stored := cp
	m.entries[path] = &stored
	return &cp, nil
}

func (m *memStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[path]; !ok {
		return metadata.ErrNotFound
	}
	delete(m.entries, path)
	return nil
}

func (m *memStore) ListChildren(ctx context.Context, parentPath string) ([]*metadata.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*metadata.Metadata
	for p, md := range m.entries {
		if p != "/" && metadata.ParentPath(p) == parentPath {
			cp := *md
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) Close() error { return nil }

// recordingNotifier remembers the events it received
type recordingNotifier struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (r *recordingNotifier) PreCommit(ctx context.Context, ev hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) PostCommit(ctx context.Context, ev hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// failingReader returns err once n bytes have been read
type failingReader struct {
	data []byte
	n    int
	pos  int
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.pos >= f.n {
		return 0, f.err
	}
	end := f.pos + len(p)
	if end > f.n {
		end = f.n
	}
	copied := copy(p, f.data[f.pos:end])
	f.pos += copied
	return copied, nil
}

func (f *failingReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = int(offset)
	case io.SeekEnd:
		f.pos = len(f.data) + int(offset)
	default:
		f.pos += int(offset)
	}
	return int64(f.pos), nil
}
