package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/cryptox"
	"github.com/dmitrijs2005/filerelay/internal/filex"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/keys"
	"github.com/dmitrijs2005/filerelay/internal/server/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// blobMagic prefixes every sealed blob; it lets Retrieve tell a foreign
// or truncated object from a tampered one.
//
// Blob layout: magic | owner length (uint16, big endian) | owner | nonce |
// ciphertext+tag. The handle and the owner are sealed in as additional
// data, so neither can be swapped without failing decryption.
var blobMagic = []byte("FRL2")

const ownerLenSize = 2

func additionalData(handle, owner string) []byte {
	return []byte(handle + "\x00" + owner)
}

// blobHeader is the unencrypted prefix of a blob up to the nonce.
func blobHeader(owner string) []byte {
	h := make([]byte, len(blobMagic)+ownerLenSize, len(blobMagic)+ownerLenSize+len(owner))
	copy(h, blobMagic)
	binary.BigEndian.PutUint16(h[len(blobMagic):], uint16(len(owner)))
	return append(h, owner...)
}

var errBlobFormat = fmt.Errorf("%w: %w: unrecognized blob format", common.ErrStorage, common.ErrDecryptFailed)

// readOwner consumes the header from r and returns the owner it names.
func readOwner(r io.Reader) (string, error) {
	prefix := make([]byte, len(blobMagic)+ownerLenSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", errBlobFormat
		}
		return "", storageFailure("read blob: %v", err)
	}
	if !bytes.Equal(prefix[:len(blobMagic)], blobMagic) {
		return "", errBlobFormat
	}

	owner := make([]byte, binary.BigEndian.Uint16(prefix[len(blobMagic):]))
	if _, err := io.ReadFull(r, owner); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", errBlobFormat
		}
		return "", storageFailure("read blob: %v", err)
	}
	return string(owner), nil
}

// Options tunes an EncryptedManager.
type Options struct {
	MaxSize      int64
	AllowedTypes []string
	Workers      int
	ScratchDir   string
}

// EncryptedManager seals uploads before handing them to a Backend.
type EncryptedManager struct {
	keys       *keys.Manager
	backend    Backend
	logger     logging.Logger
	sem        *semaphore.Weighted
	maxSize    int64
	allowed    map[string]struct{}
	scratchDir string
	now        func() time.Time
}

// NewEncryptedManager prepares the scratch directory and drops anything a
// previous process left there.
func NewEncryptedManager(k *keys.Manager, backend Backend, logger logging.Logger, opts Options) (*EncryptedManager, error) {
	if opts.MaxSize <= 0 {
		return nil, errors.New("max size must be positive")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	scratch, err := filex.EnsureDir(opts.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	removed, err := filex.EmptyDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("sweep scratch dir: %w", err)
	}

	log := logger.With("module", "storage")
	if removed > 0 {
		log.Warn(context.Background(), "removed stale transient files", "count", removed, "dir", scratch)
	}

	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[normalizeType(t)] = struct{}{}
	}

	return &EncryptedManager{
		keys:       k,
		backend:    backend,
		logger:     log,
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		maxSize:    opts.MaxSize,
		allowed:    allowed,
		scratchDir: scratch,
		now:        time.Now,
	}, nil
}

func normalizeType(t string) string {
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(t))
	}
	return mt
}

// Allowed reports whether the media type t is on the allow-list.
func (m *EncryptedManager) Allowed(t string) bool {
	_, ok := m.allowed[normalizeType(t)]
	return ok
}

// MaxSize is the upload ceiling in bytes.
func (m *EncryptedManager) MaxSize() int64 {
	return m.maxSize
}

func rejected(err error) error {
	return fmt.Errorf("%w: %w: %w", common.ErrStorage, common.ErrValidation, err)
}

func storageFailure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrStorage, fmt.Sprintf(format, args...))
}

func errNotFound(handle string) error {
	return fmt.Errorf("object %s: %w", handle, common.ErrorNotFound)
}

func (m *EncryptedManager) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StorageOps.WithLabelValues(op, result).Inc()
	metrics.StorageLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Store reads r fully, seals it and publishes it under a new handle.
// Oversize input and disallowed types are rejected without writing
// anything.
func (m *EncryptedManager) Store(ctx context.Context, r io.Reader, meta Metadata) (obj *EncryptedObject, err error) {
	start := m.now()
	defer func() { m.observe("store", start, err) }()

	mimeType := normalizeType(meta.MimeType)
	if mimeType != "" && !m.Allowed(mimeType) {
		return nil, rejected(fmt.Errorf("%w: %s", common.ErrTypeNotAllowed, mimeType))
	}
	if len(meta.Owner) > math.MaxUint16 {
		return nil, rejected(errors.New("owner identity too long"))
	}
	if meta.DeclaredSize > m.maxSize {
		return nil, rejected(fmt.Errorf("%w: %d > %d", common.ErrTooLarge, meta.DeclaredSize, m.maxSize))
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	defer m.sem.Release(1)

	data, err := io.ReadAll(io.LimitReader(r, m.maxSize+1))
	defer common.WipeByteArray(data)
	if err != nil {
		return nil, fmt.Errorf("%w: read input: %w", common.ErrStorage, err)
	}
	if int64(len(data)) > m.maxSize {
		return nil, rejected(fmt.Errorf("%w: more than %d bytes", common.ErrTooLarge, m.maxSize))
	}

	if mimeType == "" {
		mimeType = normalizeType(http.DetectContentType(data))
		if !m.Allowed(mimeType) {
			return nil, rejected(fmt.Errorf("%w: %s", common.ErrTypeNotAllowed, mimeType))
		}
	}

	handle := uuid.NewString()

	key := m.keys.Key()
	defer common.WipeByteArray(key)

	sealed, err := cryptox.Seal(key, data, additionalData(handle, meta.Owner))
	if err != nil {
		return nil, storageFailure("encrypt: %v", err)
	}

	blob := append(blobHeader(meta.Owner), sealed...)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	if err := m.backend.Put(ctx, handle, blob); err != nil {
		// the backend may have got as far as publishing before failing
		_ = m.backend.Delete(context.WithoutCancel(ctx), handle)
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	metrics.StorageBytes.WithLabelValues("store").Add(float64(len(data)))
	m.logger.Debug(ctx, "object stored", "handle", handle, "owner", meta.Owner, "size", len(data), "mime", mimeType)

	return &EncryptedObject{Handle: handle, SizeBytes: int64(len(data)), MimeType: mimeType}, nil
}

// Retrieve opens the object into a transient file and returns a reader over
// it. release closes and removes the file; it is safe to call more than
// once. On error nothing is left behind and release is nil.
func (m *EncryptedManager) Retrieve(ctx context.Context, handle string) (pt *Plaintext, release func(), err error) {
	start := m.now()
	defer func() { m.observe("retrieve", start, err) }()

	if _, perr := uuid.Parse(handle); perr != nil {
		return nil, nil, errNotFound(handle)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	defer m.sem.Release(1)

	rc, err := m.backend.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, errNotFound(handle)
		}
		return nil, nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	owner, err := readOwner(rc)
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	sealed, err := io.ReadAll(io.LimitReader(rc, m.maxSize+int64(cryptox.Overhead)+1))
	_ = rc.Close()
	if err != nil {
		return nil, nil, storageFailure("read blob: %v", err)
	}

	key := m.keys.Key()
	defer common.WipeByteArray(key)

	plain, err := cryptox.Open(key, sealed, additionalData(handle, owner))
	defer common.WipeByteArray(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w: %v", common.ErrStorage, common.ErrDecryptFailed, err)
	}

	f, err := os.CreateTemp(m.scratchDir, "dl-*")
	if err != nil {
		return nil, nil, storageFailure("create transient file: %v", err)
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			_ = f.Close()
			if rerr := filex.RemoveIfExists(f.Name()); rerr != nil {
				m.logger.Error(ctx, "failed to remove transient file", "path", f.Name(), "error", rerr)
			}
		})
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	if _, err = f.Write(plain); err != nil {
		return nil, nil, storageFailure("write transient file: %v", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, storageFailure("rewind transient file: %v", err)
	}
	if cerr := ctx.Err(); cerr != nil {
		err = fmt.Errorf("%w: %w", common.ErrStorage, cerr)
		return nil, nil, err
	}

	metrics.StorageBytes.WithLabelValues("retrieve").Add(float64(len(plain)))

	return &Plaintext{ReadSeeker: f, Size: int64(len(plain)), ModTime: m.now()}, release, nil
}

// Delete removes the object. Unknown handles are not an error.
func (m *EncryptedManager) Delete(ctx context.Context, handle string) (err error) {
	start := m.now()
	defer func() { m.observe("delete", start, err) }()

	if _, perr := uuid.Parse(handle); perr != nil {
		return nil
	}
	if err := m.backend.Delete(ctx, handle); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	return nil
}

// Owner returns the identity the object was stored for. Only the blob
// header is read; the owner is authenticated when the object is opened.
func (m *EncryptedManager) Owner(ctx context.Context, handle string) (string, error) {
	if _, err := uuid.Parse(handle); err != nil {
		return "", errNotFound(handle)
	}

	rc, err := m.backend.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", errNotFound(handle)
		}
		return "", fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	defer rc.Close()

	return readOwner(rc)
}
