// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload validates and uploads message attachments.
//
// Files are checked locally first (size, sniffed MIME type) so a bad file is
// rejected before any network call. Accepted files are registered on the
// conversation and their bytes PUT directly to the presigned URL the backend
// returns.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes = 10 * 1024 * 1024

// DefaultAllowedTypes is the MIME allow-list when none is configured.
var DefaultAllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
}

// ErrNoConversation is returned when uploading before a conversation exists.
var ErrNoConversation = errors.New("attachments need an existing conversation")

// =============================================================================
// FILES AND VALIDATION
// =============================================================================

// File is an attachment held in memory.
type File struct {
	Name string
	Data []byte
}

// ReadFile loads a file from disk, refusing anything above maxBytes without
// reading it whole.
func ReadFile(path string, maxBytes int64) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return File{}, err
	}
	name := filepath.Base(path)
	if info.IsDir() {
		return File{}, &ValidationError{Filename: name, Reason: "is a directory"}
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return File{}, &ValidationError{Filename: name, Reason: fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), maxBytes)}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", name, err)
	}
	return File{Name: name, Data: data}, nil
}

// ValidationError is a local rejection of a file before upload.
type ValidationError struct {
	Filename string
	Reason   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot attach %s: %s", e.Filename, e.Reason)
}

// Policy is the set of local checks applied to attachments.
type Policy struct {
	MaxBytes     int64
	AllowedTypes []string
}

// PolicyFrom builds a Policy from chat configuration.
func PolicyFrom(cfg config.ChatConfig) Policy {
	p := Policy{MaxBytes: cfg.MaxUploadBytes, AllowedTypes: cfg.AllowedMimeTypes}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxBytes
	}
	if len(p.AllowedTypes) == 0 {
		p.AllowedTypes = DefaultAllowedTypes
	}
	return p
}

// Validate checks f and returns its sniffed MIME type without parameters.
// The extension is never trusted.
func (p Policy) Validate(f File) (string, error) {
	if len(f.Data) == 0 {
		return "", &ValidationError{Filename: f.Name, Reason: "file is empty"}
	}
	if p.MaxBytes > 0 && int64(len(f.Data)) > p.MaxBytes {
		return "", &ValidationError{
			Filename: f.Name,
			Reason:   fmt.Sprintf("file too large (%d bytes, max %d)", len(f.Data), p.MaxBytes),
		}
	}

	detected := mimetype.Detect(f.Data)
	for _, allowed := range p.AllowedTypes {
		if detected.Is(allowed) {
			return baseType(detected.String()), nil
		}
	}
	return "", &ValidationError{Filename: f.Name, Reason: fmt.Sprintf("type %s is not allowed", baseType(detected.String()))}
}

// baseType strips MIME parameters such as charset.
func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// =============================================================================
// UPLOADER
// =============================================================================

// Registrar registers a file on a conversation. *api.Client implements it.
type Registrar interface {
	CreateFileUpload(ctx context.Context, conversationID string, req api.FileUploadRequest) (*api.FileUpload, error)
}

// Uploader validates files and sends them to the backend.
type Uploader struct {
	registrar Registrar
	client    *http.Client
	policy    Policy
	logger    *zap.Logger
}

// NewUploader creates an uploader. client carries no credentials: the
// presigned URL is the authorization.
func NewUploader(registrar Registrar, client *http.Client, policy Policy) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{registrar: registrar, client: client, policy: policy, logger: zap.NewNop()}
}

// WithLogger sets the logger.
func (u *Uploader) WithLogger(l *zap.Logger) *Uploader {
	u.logger = logging.OrNop(l)
	return u
}

// Validate applies the uploader's policy to f.
func (u *Uploader) Validate(f File) error {
	_, err := u.policy.Validate(f)
	return err
}

// Upload validates f, registers it on the conversation and PUTs its bytes to
// the presigned URL. It returns the attachment to reference in a chat message.
func (u *Uploader) Upload(ctx context.Context, conversationID string, f File) (*model.Attachment, error) {
	mimeType, err := u.policy.Validate(f)
	if err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, ErrNoConversation
	}

	target, err := u.registrar.CreateFileUpload(ctx, conversationID, api.FileUploadRequest{
		Filename:  f.Name,
		MimeType:  mimeType,
		SizeBytes: int64(len(f.Data)),
	})
	if err != nil {
		return nil, fmt.Errorf("register upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.PresignedURL, bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = int64(len(f.Data))

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &api.RequestError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	u.logger.Debug("file uploaded",
		zap.String("file_id", target.FileID),
		zap.String("mime_type", mimeType),
		zap.Int("size", len(f.Data)),
	)
	return &model.Attachment{
		FileID:    target.FileID,
		Filename:  f.Name,
		MimeType:  mimeType,
		SizeBytes: int64(len(f.Data)),
	}, nil
}
