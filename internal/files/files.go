// Package files stores uploaded attachments in the blob store, keeps their
// metadata as documents, and serves them back with on-demand image resizing.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/blob"
	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/metrics"
)

var (
	// ErrEmpty rejects uploads with no bytes.
	ErrEmpty = errors.New("file is empty")
	// ErrTooLarge rejects uploads above the configured limit.
	ErrTooLarge = errors.New("file exceeds upload limit")
	// ErrNotFound is returned when no file exists for the given ID.
	ErrNotFound = errors.New("file not found")
)

// TagFile marks every uploaded-file metadata document.
const TagFile = "file"

// docKey is the document key shared by all file metadata records.
const docKey = "file"

// Metadata is the document value stored for each upload.
type Metadata struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Alt         string `json:"alt,omitempty"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
}

// Upload is one inbound file with its form metadata.
type Upload struct {
	Name        string
	ContentType string
	Alt         string
	Data        []byte
}

// StoredFile is the response payload for a completed upload.
type StoredFile struct {
	ID          string `json:"uuid"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

// File is a served file: metadata plus the (possibly resized) bytes.
type File struct {
	Metadata
	Data []byte
}

// Bounds caps the dimensions of a served image. Zero values mean "no bound".
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

func (b Bounds) empty() bool {
	return b.MaxWidth <= 0 && b.MaxHeight <= 0
}

// Hasher digests upload contents; blobs are keyed by the digest so identical
// uploads share storage and resized variants.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config bounds uploads and resize dimensions.
type Config struct {
	MaxUploadBytes int64
	MaxWidth       int
	MaxHeight      int
}

// Service implements upload, serving, and the image source used by the
// platform clients.
type Service struct {
	blobs   blob.Store
	docs    docstore.Store
	resizer Resizer
	hasher  Hasher
	cfg     Config
	logger  *zap.Logger
}

// NewService wires a file Service. The resizer may be nil, which disables
// resize-on-demand.
func NewService(
	blobs blob.Store,
	docs docstore.Store,
	resizer Resizer,
	hasher Hasher,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		blobs:   blobs,
		docs:    docs,
		resizer: resizer,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Upload persists the bytes content-addressed and the metadata as a
// document, returning the generated file ID. Re-uploading identical bytes
// reuses the stored blob.
func (s *Service) Upload(ctx context.Context, up Upload) (StoredFile, error) {
	if len(up.Data) == 0 {
		metrics.ObserveUpload("rejected", 0)
		return StoredFile{}, ErrEmpty
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(up.Data)) > s.cfg.MaxUploadBytes {
		metrics.ObserveUpload("rejected", 0)
		return StoredFile{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(up.Data))
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(up.Data)
	}

	hash, err := s.hasher.Hash(up.Data)
	if err != nil {
		return StoredFile{}, fmt.Errorf("hash upload: %w", err)
	}
	key := blobKey(hash)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return StoredFile{}, fmt.Errorf("check blob %s: %w", key, err)
	}
	if !exists {
		if _, err := s.blobs.Put(ctx, key, contentType, bytes.NewReader(up.Data)); err != nil {
			return StoredFile{}, fmt.Errorf("store blob %s: %w", key, err)
		}
	}

	meta := Metadata{
		Name:        up.Name,
		ContentType: contentType,
		Alt:         up.Alt,
		SHA256:      hash,
		Size:        int64(len(up.Data)),
	}
	value, err := json.Marshal(meta)
	if err != nil {
		return StoredFile{}, fmt.Errorf("marshal metadata: %w", err)
	}
	doc := &docstore.Document{Key: docKey, Value: value, Tags: []string{TagFile}}
	if err := s.docs.Put(ctx, doc); err != nil {
		return StoredFile{}, fmt.Errorf("store metadata: %w", err)
	}

	metrics.ObserveUpload("accepted", meta.Size)
	s.logger.Info("file uploaded",
		zap.String("file_id", doc.ID),
		zap.String("name", meta.Name),
		zap.String("content_type", meta.ContentType),
		zap.Int64("size", meta.Size),
	)
	return StoredFile{
		ID:          doc.ID,
		Name:        meta.Name,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		SHA256:      meta.SHA256,
	}, nil
}

// Get loads a stored file. Non-empty bounds on an image trigger a resize;
// each distinct hash+bounds variant is produced once and then reused.
func (s *Service) Get(ctx context.Context, id string, bounds Bounds) (File, error) {
	meta, err := s.metadata(ctx, id)
	if err != nil {
		return File{}, err
	}
	data, err := s.blobs.Get(ctx, blobKey(meta.SHA256))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return File{}, fmt.Errorf("%w: blob missing for %s", ErrNotFound, id)
		}
		return File{}, fmt.Errorf("load blob: %w", err)
	}

	if bounds.empty() || !strings.HasPrefix(meta.ContentType, "image/") || s.resizer == nil {
		return File{Metadata: meta, Data: data}, nil
	}

	bounds = s.clamp(bounds)
	resized, err := s.variant(ctx, meta, data, bounds)
	if err != nil {
		return File{}, err
	}
	meta.Size = int64(len(resized))
	return File{Metadata: meta, Data: resized}, nil
}

// Image resolves an uploaded file for platform attachment. Platforms always
// receive the original bytes; they apply their own transformations.
func (s *Service) Image(ctx context.Context, id string) (broadcast.Image, error) {
	f, err := s.Get(ctx, id, Bounds{})
	if err != nil {
		return broadcast.Image{}, err
	}
	return broadcast.Image{
		Name:        f.Name,
		ContentType: f.ContentType,
		Alt:         f.Alt,
		Data:        f.Data,
	}, nil
}

// metadata loads and decodes the metadata document for a file ID.
func (s *Service) metadata(ctx context.Context, id string) (Metadata, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(doc.Value, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata for %s: %w", id, err)
	}
	return meta, nil
}

// variant returns the resized bytes for the bounds, producing and caching
// them on first request.
func (s *Service) variant(ctx context.Context, meta Metadata, original []byte, bounds Bounds) ([]byte, error) {
	key := variantKey(meta.SHA256, bounds)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check variant %s: %w", key, err)
	}
	if exists {
		cached, err := s.blobs.Get(ctx, key)
		if err == nil {
			return cached, nil
		}
		s.logger.Warn("cached variant unreadable, resizing again", zap.String("key", key), zap.Error(err))
	}

	resized, err := s.resizer.Resize(ctx, original, meta.ContentType, bounds.MaxWidth, bounds.MaxHeight)
	if err != nil {
		metrics.ObserveResize("error")
		return nil, fmt.Errorf("resize %s: %w", meta.SHA256, err)
	}
	metrics.ObserveResize("ok")
	if _, err := s.blobs.Put(ctx, key, meta.ContentType, bytes.NewReader(resized)); err != nil {
		// Serving the resized bytes matters more than caching them.
		s.logger.Warn("store variant failed", zap.String("key", key), zap.Error(err))
	}
	return resized, nil
}

// clamp fills missing bounds from config and caps both against the
// configured maxima.
func (s *Service) clamp(b Bounds) Bounds {
	if b.MaxWidth <= 0 || (s.cfg.MaxWidth > 0 && b.MaxWidth > s.cfg.MaxWidth) {
		b.MaxWidth = s.cfg.MaxWidth
	}
	if b.MaxHeight <= 0 || (s.cfg.MaxHeight > 0 && b.MaxHeight > s.cfg.MaxHeight) {
		b.MaxHeight = s.cfg.MaxHeight
	}
	return b
}

func blobKey(hash string) string {
	return "files/" + hash
}

func variantKey(hash string, b Bounds) string {
	return fmt.Sprintf("files/%s_w%dxh%d", hash, b.MaxWidth, b.MaxHeight)
}
