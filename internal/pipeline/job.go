package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Job owns the temporary directory of one file-mediated run. Every file the run
// creates lives under that directory, and the directory is removed exactly once:
// either by Close, or by the result body once ownership moved to the response.
type Job struct {
	dir       string
	mu        sync.Mutex
	handedOff bool
	removed   bool
}

// NewJob creates a uniquely named directory under root, or the OS temp dir when root
// is empty.
func NewJob(root string) (*Job, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dir := filepath.Join(root, "bitgremlin-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return &Job{dir: dir}, nil
}

// Dir returns the job directory.
func (j *Job) Dir() string {
	return j.dir
}

// Path returns the path of a file inside the job directory.
func (j *Job) Path(name string) string {
	return filepath.Join(j.dir, filepath.Base(name))
}

// WriteInput copies src into a file named name inside the job directory.
func (j *Job) WriteInput(name string, src io.Reader) (string, error) {
	path := j.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create input: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("write input: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close input: %w", err)
	}
	return path, nil
}

// SaveUpload writes an upload into the job directory.
func (j *Job) SaveUpload(u *Upload, name string) (string, error) {
	src, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return j.WriteInput(name, src)
}

// Result opens path and hands the job directory over to the returned result. The
// directory is removed when the result body is closed. After Result succeeds, Close
// on the job is a no-op.
func (j *Job) Result(path, contentType, filename string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat output: %w", err)
	}

	j.mu.Lock()
	j.handedOff = true
	j.mu.Unlock()

	return &Result{
		Body:          &fileBody{File: f, cleanup: j.remove},
		ContentType:   contentType,
		Filename:      filename,
		ContentLength: info.Size(),
	}, nil
}

// Close removes the job directory unless ownership was handed to a result.
func (j *Job) Close() error {
	j.mu.Lock()
	handedOff := j.handedOff
	j.mu.Unlock()
	if handedOff {
		return nil
	}
	return j.remove()
}

func (j *Job) remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.removed {
		return nil
	}
	j.removed = true
	return os.RemoveAll(j.dir)
}

// fileBody closes the file, then runs cleanup once.
type fileBody struct {
	*os.File
	once    sync.Once
	cleanup func() error
	err     error
}

func (b *fileBody) Close() error {
	b.once.Do(func() {
		closeErr := b.File.Close()
		b.err = b.cleanup()
		if b.err == nil {
			b.err = closeErr
		}
	})
	return b.err
}
