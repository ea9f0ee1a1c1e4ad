package fileserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convo/internal/model"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadAndServeRoundTrip(t *testing.T) {
	svc := New(t.TempDir(), 1<<20, "")

	content := append(append([]byte{}, pngHeader...), []byte("fake image data")...)
	body, contentType := multipartBody(t, "photo.png", content)

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.URL, "/api/files/"))
	assert.Equal(t, "photo.png", resp.FileName)
	assert.Equal(t, model.MessageTypeImage, resp.MessageType)
	assert.Equal(t, "image/png", resp.MimeType)

	name := path.Base(resp.URL)
	serveReq := httptest.NewRequest(http.MethodGet, "/api/files/"+name, nil)
	serveRec := httptest.NewRecorder()
	svc.Serve(serveRec, serveReq, name)

	require.Equal(t, http.StatusOK, serveRec.Code)
	served, err := io.ReadAll(serveRec.Body)
	require.NoError(t, err)
	assert.Equal(t, content, served)
	assert.Equal(t, "image/png", serveRec.Header().Get("Content-Type"))
}

func TestUploadRejectsBlockedExtension(t *testing.T) {
	svc := New(t.TempDir(), 1<<20, "")

	body, contentType := multipartBody(t, "evil.exe", []byte("MZ..."))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsMismatchedMagic(t *testing.T) {
	svc := New(t.TempDir(), 1<<20, "")

	// Claims to be a PNG but carries no PNG signature.
	body, contentType := multipartBody(t, "fake.png", []byte("just text"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeUnknownFile(t *testing.T) {
	svc := New(t.TempDir(), 1<<20, "")

	req := httptest.NewRequest(http.MethodGet, "/api/files/missing.png", nil)
	rec := httptest.NewRecorder()
	svc.Serve(rec, req, "missing.png")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadStored(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, 1<<20, "")

	content := append(append([]byte{}, pngHeader...), []byte("pixels")...)
	body, contentType := multipartBody(t, "a.png", content)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	data, mimeType, err := svc.ReadStored(path.Base(resp.URL))
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, "image/png", mimeType)
}

func TestMessageTypeByExt(t *testing.T) {
	assert.Equal(t, model.MessageTypeImage, MessageTypeByExt(".jpg"))
	assert.Equal(t, model.MessageTypeVideo, MessageTypeByExt(".mp4"))
	assert.Equal(t, model.MessageTypeAudio, MessageTypeByExt(".ogg"))
	assert.Equal(t, model.MessageTypeDocument, MessageTypeByExt(".pdf"))
	assert.Equal(t, model.MessageTypeFile, MessageTypeByExt(".zip"))
	assert.Equal(t, model.MessageTypeFile, MessageTypeByExt(""))
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", safeFilename("report.pdf"))
	assert.Equal(t, "a_b_.txt", safeFilename(`a"b/.txt`))
	assert.Equal(t, "", safeFilename("   "))
	assert.Equal(t, "tab.txt", safeFilename("tab\x00\x1f.txt"))
}
