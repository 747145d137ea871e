// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/config"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	zipBytes = append([]byte("PK\x03\x04"), make([]byte, 32)...)
)

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestPolicy_Validate(t *testing.T) {
	p := Policy{MaxBytes: 64, AllowedTypes: DefaultAllowedTypes}

	tests := []struct {
		name     string
		file     File
		wantType string
		wantErr  bool
	}{
		{"png", File{"a.png", pngBytes}, "image/png", false},
		{"pdf", File{"doc.pdf", pdfBytes}, "application/pdf", false},
		{"text with params stripped", File{"notes.txt", []byte("hello world\n")}, "text/plain", false},
		{"extension not trusted", File{"photo.png", zipBytes}, "", true},
		{"empty", File{"a.png", nil}, "", true},
		{"too large", File{"big.png", append(append([]byte{}, pngBytes...), make([]byte, 64)...)}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Validate(tc.file)
			if tc.wantErr {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tc.file.Name, ve.Filename)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, got)
		})
	}
}

func TestPolicyFrom_Defaults(t *testing.T) {
	p := PolicyFrom(config.ChatConfig{})
	assert.Equal(t, int64(DefaultMaxBytes), p.MaxBytes)
	assert.Equal(t, DefaultAllowedTypes, p.AllowedTypes)

	p = PolicyFrom(config.ChatConfig{MaxUploadBytes: 5, AllowedMimeTypes: []string{"image/png"}})
	assert.Equal(t, int64(5), p.MaxBytes)
	assert.Equal(t, []string{"image/png"}, p.AllowedTypes)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0600))

	f, err := ReadFile(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "a.png", f.Name)
	assert.Equal(t, pngBytes, f.Data)

	_, err = ReadFile(path, 4)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = ReadFile(dir, 1024)
	assert.ErrorAs(t, err, &ve)

	_, err = ReadFile(filepath.Join(dir, "missing"), 1024)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// =============================================================================
// UPLOAD TESTS
// =============================================================================

type fakeRegistrar struct {
	url   string
	calls atomic.Int32
	last  api.FileUploadRequest
	err   error
}

func (r *fakeRegistrar) CreateFileUpload(ctx context.Context, conversationID string, req api.FileUploadRequest) (*api.FileUpload, error) {
	r.calls.Add(1)
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	return &api.FileUpload{PresignedURL: r.url, FileID: "file-1"}, nil
}

func TestUpload_PutsToPresignedURL(t *testing.T) {
	var gotBody []byte
	var gotType, gotAuth string
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer store.Close()

	reg := &fakeRegistrar{url: store.URL + "/bucket/obj?sig=abc"}
	u := NewUploader(reg, store.Client(), PolicyFrom(config.ChatConfig{}))

	att, err := u.Upload(context.Background(), "c1", File{"a.png", pngBytes})
	require.NoError(t, err)

	assert.Equal(t, "file-1", att.FileID)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, int64(len(pngBytes)), att.SizeBytes)
	assert.Equal(t, api.FileUploadRequest{Filename: "a.png", MimeType: "image/png", SizeBytes: int64(len(pngBytes))}, reg.last)
	assert.Equal(t, pngBytes, gotBody)
	assert.Equal(t, "image/png", gotType)
	assert.Empty(t, gotAuth, "presigned upload carries no bearer token")
}

func TestUpload_RejectsBeforeNetwork(t *testing.T) {
	reg := &fakeRegistrar{url: "http://unused.invalid/"}
	u := NewUploader(reg, nil, PolicyFrom(config.ChatConfig{}))

	_, err := u.Upload(context.Background(), "c1", File{"photo.png", zipBytes})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = u.Upload(context.Background(), "", File{"a.png", pngBytes})
	assert.ErrorIs(t, err, ErrNoConversation)

	assert.Equal(t, int32(0), reg.calls.Load())
}

func TestUpload_StorageRejects(t *testing.T) {
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "signature expired")
	}))
	defer store.Close()

	u := NewUploader(&fakeRegistrar{url: store.URL}, store.Client(), PolicyFrom(config.ChatConfig{}))
	_, err := u.Upload(context.Background(), "c1", File{"a.png", pngBytes})

	assert.Equal(t, http.StatusForbidden, api.StatusOf(err))
	assert.Contains(t, err.Error(), "signature expired")
}

func TestUpload_RegistrationFails(t *testing.T) {
	reg := &fakeRegistrar{err: &api.RequestError{Status: 404, Message: "no such conversation"}}
	u := NewUploader(reg, nil, PolicyFrom(config.ChatConfig{}))

	_, err := u.Upload(context.Background(), "c1", File{"a.png", pngBytes})
	assert.Equal(t, 404, api.StatusOf(err))
}
