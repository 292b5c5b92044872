package archive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystem_PutOverwrites(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	ref, err := fs.Put(t.Context(), "cfg-1/HF_STO-3G/12.log", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = fs.Put(t.Context(), "cfg-1/HF_STO-3G/12.log", strings.NewReader("second"))
	require.NoError(t, err)

	u, err := url.Parse(ref)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)

	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	leftovers, err := filepath.Glob(filepath.Join(fs.Root(), "cfg-1", "HF_STO-3G", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b"} {
		_, err := fs.Put(t.Context(), key, strings.NewReader("x"))
		assert.Error(t, err, "key %q", key)
	}
}

func TestFilesystem_CancelledContext(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = fs.Put(ctx, "a.log", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoinKey(t *testing.T) {
	got := JoinKey("cfg-1", "MP2/aug-cc-pVTZ (cp)", "", "12.log")
	assert.Equal(t, "cfg-1/MP2_aug-cc-pVTZ_cp/12.log", got)
}

func TestOpen_Drivers(t *testing.T) {
	s, err := Open(t.Context(), Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(t.Context(), Config{Driver: "ftp"})
	assert.Error(t, err)
}

// fakeS3 is an in-memory transport that understands path-style PutObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	f.objects[strings.TrimPrefix(req.URL.Path, "/")] = body
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     http.Header{"Etag": {"\"etag\""}},
	}, nil
}

func newFakeS3(t *testing.T, prefix string) (*S3, *fakeS3) {
	t.Helper()
	rt := &fakeS3{objects: make(map[string][]byte)}
	cfg, err := config.LoadDefaultConfig(t.Context(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return newS3WithClient(client, "ledger-logs", prefix), rt
}

func TestS3_Put(t *testing.T) {
	s, rt := newFakeS3(t, "/runs/")
	assert.Equal(t, DriverS3, s.Driver())

	ref, err := s.Put(t.Context(), "cfg-1/HF_STO-3G/1.log", strings.NewReader("energy=-76.0"))
	require.NoError(t, err)
	assert.Equal(t, "s3://ledger-logs/runs/cfg-1/HF_STO-3G/1.log", ref)
	assert.Equal(t, "energy=-76.0", string(rt.objects["ledger-logs/runs/cfg-1/HF_STO-3G/1.log"]))
}

func TestS3_RejectsTraversal(t *testing.T) {
	s, rt := newFakeS3(t, "")
	_, err := s.Put(t.Context(), "../x", strings.NewReader("x"))
	assert.Error(t, err)
	assert.Empty(t, rt.objects)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	t.Setenv("MBFIT_ARCHIVE_S3_BUCKET", "")
	_, err := NewS3(t.Context(), S3Config{})
	assert.Error(t, err)
}
