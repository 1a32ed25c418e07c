package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bakonf-go/internal/bakonf"
)

// MockFile represents an entry in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	LinkTarget  string
	UID         int64
	GID         int64

	// ReadContent, when non-nil, is what Open returns instead of Content,
	// simulating a file that changes after Lstat.
	ReadContent []byte
	// ReadErr is returned by the reader after its content is exhausted.
	ReadErr error
}

func (f *MockFile) mode() fs.FileMode {
	switch {
	case f.IsDirectory:
		return fs.ModeDir | f.Permissions
	case f.LinkTarget != "":
		return fs.ModeSymlink | f.Permissions
	default:
		return f.Permissions
	}
}

func (f *MockFile) size() int64 {
	if f.LinkTarget != "" {
		return int64(len(f.LinkTarget))
	}
	return int64(len(f.Content))
}

// MockFilesystemManager is an in-memory filesystem for testing. Parent
// directories are created implicitly. Failures can be injected per path and
// operation.
type MockFilesystemManager struct {
	files map[string]*MockFile
	now   time.Time

	lstatErrs    map[string]error
	readlinkErrs map[string]error
	openErrs     map[string]error
	readDirErrs  map[string]error

	// Opens counts Open calls per path.
	Opens map[string]int
}

// NewMockFilesystemManager creates a new mock filesystem holding only "/".
func NewMockFilesystemManager() *MockFilesystemManager {
	m := &MockFilesystemManager{
		files:        make(map[string]*MockFile),
		now:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		lstatErrs:    make(map[string]error),
		readlinkErrs: make(map[string]error),
		openErrs:     make(map[string]error),
		readDirErrs:  make(map[string]error),
		Opens:        make(map[string]int),
	}
	m.files["/"] = &MockFile{Permissions: 0755, ModTime: m.now, IsDirectory: true}
	return m
}

// AddFile adds a regular file with mode 0644.
func (m *MockFilesystemManager) AddFile(path string, content []byte) *MockFile {
	return m.put(path, &MockFile{Content: content, Permissions: 0644})
}

// AddDirectory adds a directory with mode 0755.
func (m *MockFilesystemManager) AddDirectory(path string) *MockFile {
	return m.put(path, &MockFile{Permissions: 0755, IsDirectory: true})
}

// AddSymlink adds a symbolic link pointing at target.
func (m *MockFilesystemManager) AddSymlink(path, target string) *MockFile {
	return m.put(path, &MockFile{Permissions: 0777, LinkTarget: target})
}

// Remove deletes path and everything below it.
func (m *MockFilesystemManager) Remove(path string) {
	for p := range m.files {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.files, p)
		}
	}
}

// Get returns the entry at path for direct modification.
func (m *MockFilesystemManager) Get(path string) *MockFile {
	return m.files[path]
}

// FailLstat makes Lstat of path return err.
func (m *MockFilesystemManager) FailLstat(path string, err error) { m.lstatErrs[path] = err }

// FailReadlink makes Readlink of path return err.
func (m *MockFilesystemManager) FailReadlink(path string, err error) { m.readlinkErrs[path] = err }

// FailOpen makes Open of path return err.
func (m *MockFilesystemManager) FailOpen(path string, err error) { m.openErrs[path] = err }

// FailReadDir makes ReadDir of path return err.
func (m *MockFilesystemManager) FailReadDir(path string, err error) { m.readDirErrs[path] = err }

func (m *MockFilesystemManager) put(path string, f *MockFile) *MockFile {
	f.ModTime = m.now
	if f.UID == 0 && f.GID == 0 {
		f.UID, f.GID = 1000, 1000
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, ok := m.files[dir]; !ok {
			m.files[dir] = &MockFile{Permissions: 0755, ModTime: m.now, IsDirectory: true, UID: 1000, GID: 1000}
		}
		if dir == "/" || dir == "." {
			break
		}
	}
	m.files[path] = f
	return f
}

func (m *MockFilesystemManager) Lstat(path string) (fs.FileInfo, error) {
	if err, ok := m.lstatErrs[path]; ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	file, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return &mockFileInfo{
		name:     filepath.Base(path),
		size:     file.size(),
		mode:     file.mode(),
		modTime:  file.ModTime,
		mockFile: file,
	}, nil
}

func (m *MockFilesystemManager) Readlink(path string) (string, error) {
	if err, ok := m.readlinkErrs[path]; ok {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: err}
	}
	file, ok := m.files[path]
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrNotExist}
	}
	if file.LinkTarget == "" {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrInvalid}
	}
	return file.LinkTarget, nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	m.Opens[path]++
	if err, ok := m.openErrs[path]; ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	file, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	content := file.Content
	if file.ReadContent != nil {
		content = file.ReadContent
	}
	var r io.Reader = bytes.NewReader(content)
	if file.ReadErr != nil {
		r = io.MultiReader(r, &errReader{err: file.ReadErr})
	}
	return io.NopCloser(r), nil
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

func (m *MockFilesystemManager) ReadDir(path string) ([]string, error) {
	if err, ok := m.readDirErrs[path]; ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	dir, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if !dir.IsDirectory {
		return nil, &fs.PathError{Op: "readdirent", Path: path, Err: fmt.Errorf("not a directory")}
	}

	var names []string
	for p := range m.files {
		if p != path && filepath.Dir(p) == path {
			names = append(names, filepath.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockFilesystemManager) ExtractStatData(info fs.FileInfo) (*bakonf.StatData, error) {
	mockFile, ok := info.Sys().(*MockFile)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *MockFile, got %T", info.Sys())
	}
	return &bakonf.StatData{UID: mockFile.UID, GID: mockFile.GID}, nil
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name     string
	size     int64
	mode     fs.FileMode
	modTime  time.Time
	mockFile *MockFile
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() any           { return m.mockFile }

// Compile-time check
var _ bakonf.FilesystemManager = (*MockFilesystemManager)(nil)
