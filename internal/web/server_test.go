package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-picker-go/internal/compressor"
	"image-picker-go/internal/config"
	"image-picker-go/internal/logger"
	"image-picker-go/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Picker.MaxImageDimension = 256
	cfg.Server.MaxUploadMB = 1

	log := logger.Discard()
	s := NewServer(cfg, log, compressor.NewDefaultCompressor(log), t.TempDir())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func multipartBody(t *testing.T, field, filename string, data []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, url, field, filename string, data []byte, values map[string]string) (*http.Response, APIResponse) {
	t.Helper()
	body, contentType := multipartBody(t, field, filename, data, values)
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func decodeData(t *testing.T, data interface{}, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestCompress_Upload(t *testing.T) {
	s, ts := newTestServer(t)

	resp, out := postUpload(t, ts.URL+"/api/compress", "image", "photo.jpg", testutil.JPEG(t, 600, 800, 6), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)
	require.True(t, out.Success)

	var result CompressResponse
	decodeData(t, out.Data, &result)
	assert.Equal(t, 256, result.Width)
	assert.Equal(t, 192, result.Height)
	assert.True(t, strings.HasSuffix(result.Name, ".jpg"))
	assert.Equal(t, "/images/"+result.Name, result.URL)

	w, h := testutil.DecodeSize(t, filepath.Join(s.outputDir, result.Name))
	assert.Equal(t, 256, w)
	assert.Equal(t, 192, h)

	img, err := http.Get(ts.URL + result.URL)
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/jpeg", img.Header.Get("Content-Type"))
	served, err := io.ReadAll(img.Body)
	require.NoError(t, err)
	assert.EqualValues(t, result.Bytes, len(served))
}

func TestCompress_FormOverrides(t *testing.T) {
	_, ts := newTestServer(t)

	resp, out := postUpload(t, ts.URL+"/api/compress", "image", "photo.png", testutil.PNG(t, 120, 90),
		map[string]string{"max_dimension": "100", "quality": "50"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)

	var result CompressResponse
	decodeData(t, out.Data, &result)
	assert.Equal(t, 100, result.Width)
	assert.Equal(t, 75, result.Height)
}

func TestCompress_Rejections(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name     string
		field    string
		data     []byte
		values   map[string]string
		wantCode int
		wantKind string
	}{
		{"missing field", "file", testutil.JPEG(t, 10, 10, 0), nil, http.StatusBadRequest, ""},
		{"not an image", "image", []byte("just some text"), nil, http.StatusUnsupportedMediaType, ""},
		{"bad quality value", "image", testutil.JPEG(t, 10, 10, 0), map[string]string{"quality": "high"}, http.StatusBadRequest, ""},
		{"quality out of range", "image", testutil.JPEG(t, 10, 10, 0), map[string]string{"quality": "101"}, http.StatusBadRequest, ""},
		{"zero max dimension", "image", testutil.JPEG(t, 10, 10, 0), map[string]string{"max_dimension": "0"}, http.StatusBadRequest, ""},
		{"truncated jpeg", "image", testutil.JPEG(t, 200, 200, 0)[:300], nil, http.StatusUnprocessableEntity, "decode_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postUpload(t, ts.URL+"/api/compress", tt.field, "upload.bin", tt.data, tt.values)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
			assert.Equal(t, tt.wantKind, out.Kind)
		})
	}
}

func TestCompress_TooLarge(t *testing.T) {
	_, ts := newTestServer(t)

	data := append(testutil.JPEG(t, 10, 10, 0), bytes.Repeat([]byte{0}, (1<<20)+100<<10)...)
	resp, out := postUpload(t, ts.URL+"/api/compress", "image", "big.jpg", data, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, out.Success)
}

func TestProbe(t *testing.T) {
	_, ts := newTestServer(t)

	resp, out := postUpload(t, ts.URL+"/api/probe", "image", "photo.jpg", testutil.JPEG(t, 800, 600, 6), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)

	var probe ProbeResponse
	decodeData(t, out.Data, &probe)
	assert.Equal(t, 800, probe.Width)
	assert.Equal(t, 600, probe.Height)
	assert.Equal(t, "jpeg", probe.Format)
	assert.Equal(t, "image/jpeg", probe.MimeType)
	assert.Equal(t, "Rotate 90 CW", probe.Orientation)
	assert.Equal(t, "EXIF", probe.OrientationSource)
	assert.Equal(t, 2, probe.SubsampleFactor)
	assert.Equal(t, 192, probe.OutputWidth)
	assert.Equal(t, 256, probe.OutputHeight)
}

func TestStatusAndStatistics(t *testing.T) {
	_, ts := newTestServer(t)

	postUpload(t, ts.URL+"/api/compress", "image", "ok.jpg", testutil.JPEG(t, 40, 40, 0), nil)
	postUpload(t, ts.URL+"/api/compress", "image", "bad.jpg", testutil.JPEG(t, 200, 200, 0)[:300], nil)

	resp, err := http.Get(ts.URL + "/api/statistics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	var data struct {
		Summary  string `json:"summary"`
		Counters struct {
			RunsStarted   int64 `json:"runs_started"`
			RunsSucceeded int64 `json:"runs_succeeded"`
			RunsFailed    int64 `json:"runs_failed"`
		} `json:"counters"`
	}
	decodeData(t, out.Data, &data)
	assert.Contains(t, data.Summary, "Image Picker Statistics Summary")
	assert.EqualValues(t, 2, data.Counters.RunsStarted)
	assert.EqualValues(t, 1, data.Counters.RunsSucceeded)
	assert.EqualValues(t, 1, data.Counters.RunsFailed)

	status, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer status.Body.Close()
	assert.Equal(t, http.StatusOK, status.StatusCode)
}

func TestImage_NotFoundAndInvalid(t *testing.T) {
	s, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.outputDir, ".hidden.jpg"), []byte("x"), 0644))

	for path, code := range map[string]int{
		"/images/missing.jpg": http.StatusNotFound,
		"/images/notes.txt":   http.StatusBadRequest,
		"/images/.hidden.jpg": http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode, path)
	}
}

func TestWebSocket_Events(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	postUpload(t, ts.URL+"/api/compress", "image", "ok.jpg", testutil.JPEG(t, 40, 40, 0), nil)
	postUpload(t, ts.URL+"/api/compress", "image", "bad.jpg", testutil.JPEG(t, 200, 200, 0)[:300], nil)

	var types []string
	for i := 0; i < 4; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"compress_started", "compress_completed", "compress_started", "compress_failed"}, types)
}
