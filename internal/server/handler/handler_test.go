package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldsnap/fieldsnap/internal/auth"
	"github.com/fieldsnap/fieldsnap/internal/common"
	"github.com/fieldsnap/fieldsnap/internal/models"
	"github.com/fieldsnap/fieldsnap/internal/server/tasks"
)

var testSecret = []byte("test-secret")

type fakeRepo struct {
	mu       sync.Mutex
	media    map[string]*models.MediaRecord
	versions map[string][]*models.AnnotationVersion
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		media:    make(map[string]*models.MediaRecord),
		versions: make(map[string][]*models.AnnotationVersion),
	}
}

func (f *fakeRepo) CreateMedia(ctx context.Context, rec *models.MediaRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[rec.ID] = rec
	return nil
}

func (f *fakeRepo) GetMedia(ctx context.Context, tenantID, id string) (*models.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.media[id]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) ListMediaByJob(ctx context.Context, tenantID, jobID string) ([]*models.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.MediaRecord
	for _, rec := range f.media {
		if rec.TenantID == tenantID && rec.JobID == jobID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (f *fakeRepo) SaveAnnotation(ctx context.Context, tenantID string, v *models.AnnotationVersion) (*models.AnnotationVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.media[v.MediaID]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}

	existing := f.versions[v.MediaID]
	next := *v
	next.Version = len(existing) + 1
	if len(existing) > 0 {
		parent := existing[len(existing)-1].Version
		next.ParentVersion = &parent
	}
	f.versions[v.MediaID] = append(existing, &next)
	return &next, nil
}

func (f *fakeRepo) GetAnnotation(ctx context.Context, tenantID, mediaID string, version int) (*models.AnnotationVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.media[mediaID]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	versions := f.versions[mediaID]
	if len(versions) == 0 {
		return nil, common.ErrNotFound
	}
	if version == 0 {
		return versions[len(versions)-1], nil
	}
	for _, v := range versions {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeRepo) ListAnnotationVersions(ctx context.Context, tenantID, mediaID string) ([]*models.AnnotationVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[mediaID], nil
}

func (f *fakeRepo) SetRenderPath(ctx context.Context, mediaID string, version int, renderPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions[mediaID] {
		if v.Version == version {
			v.RenderPath = renderPath
			return nil
		}
	}
	return common.ErrNotFound
}

func (f *fakeRepo) SetThumbnailPath(ctx context.Context, mediaID, thumbnailPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.media[mediaID]
	if !ok {
		return common.ErrNotFound
	}
	rec.ThumbnailPath = thumbnailPath
	return nil
}

func (f *fakeRepo) Close() error { return nil }

type fakeLocks struct {
	mu    sync.Mutex
	locks map[string]*models.Lock
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{locks: make(map[string]*models.Lock)}
}

func (f *fakeLocks) Acquire(ctx context.Context, resourceID, holderID, holderName string) (*models.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.locks[resourceID]; ok && current.HolderID != holderID {
		return current, common.ErrLocked
	}
	lock := &models.Lock{
		ResourceID: resourceID,
		HolderID:   holderID,
		HolderName: holderName,
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(5 * time.Minute),
	}
	f.locks[resourceID] = lock
	return lock, nil
}

func (f *fakeLocks) Release(ctx context.Context, resourceID, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.locks[resourceID]
	if !ok {
		return nil
	}
	if current.HolderID != holderID {
		return common.ErrLocked
	}
	delete(f.locks, resourceID)
	return nil
}

func (f *fakeLocks) State(ctx context.Context, resourceID string) (*models.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[resourceID], nil
}

type fakeBlobs struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (f *fakeBlobs) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[key] = body
	return key, nil
}

func (f *fakeBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.puts[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return body, nil
}

// syncTasks runs submitted tasks inline so tests observe their effects.
type syncTasks struct {
	mu  sync.Mutex
	ran []string
}

func (s *syncTasks) Submit(task tasks.Task) bool {
	s.mu.Lock()
	s.ran = append(s.ran, task.Name)
	s.mu.Unlock()
	_ = task.Run(context.Background())
	return true
}

type fixture struct {
	router *gin.Engine
	repo   *fakeRepo
	locks  *fakeLocks
	blobs  *fakeBlobs
	tasks  *syncTasks
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		repo:  newFakeRepo(),
		locks: newFakeLocks(),
		blobs: &fakeBlobs{},
		tasks: &syncTasks{},
	}

	h := NewHandler(f.repo, f.locks, f.blobs, f.tasks, zap.NewNop(), testSecret)
	f.router = gin.New()
	f.router.GET("/healthz", h.Health)
	h.RegisterRoutes(f.router.Group("/api/v1"))
	return f
}

func token(t *testing.T, userID, tenantID, name string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, tenantID, name, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) addMedia(id, tenantID string) {
	f.repo.media[id] = &models.MediaRecord{
		ID: id, TenantID: tenantID, JobID: "j1",
		FileName: "photo.jpg", MimeType: "image/jpeg",
	}
}

func TestHealth(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/api/v1/media/m1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_BadToken(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/api/v1/media/m1", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateMedia_TenantFromToken(t *testing.T) {
	f := setup(t)
	body := `{"id":"m1","job_id":"j1","storage_path":"t9/j1/m1/p.jpg","bucket":"media",
		"file_name":"p.jpg","mime_type":"image/jpeg","file_size":4,
		"tenant_id":"spoofed","uploaded_by":"spoofed"}`

	w := f.do(t, http.MethodPost, "/api/v1/media", body, token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusCreated, w.Code)

	rec := f.repo.media["m1"]
	require.NotNil(t, rec)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, "u1", rec.UploadedBy)
}

func TestCreateMedia_MissingFields(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/v1/media", `{"id":"m1"}`, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateMedia_SchedulesThumbnail(t *testing.T) {
	f := setup(t)

	// Seed the blob store with the payload the agent already uploaded.
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	_, err := f.blobs.Put(context.Background(), "t1/j1/m1/p.jpg", buf.Bytes(), "image/jpeg")
	require.NoError(t, err)

	body := `{"id":"m1","job_id":"j1","storage_path":"t1/j1/m1/p.jpg","bucket":"media",
		"file_name":"p.jpg","mime_type":"image/jpeg","file_size":4}`
	w := f.do(t, http.MethodPost, "/api/v1/media", body, token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusCreated, w.Code)

	require.Contains(t, f.tasks.ran, "generate-thumbnail")

	thumb, ok := f.blobs.puts["thumbs/m1.jpg"]
	require.True(t, ok, "thumbnail should be stored")
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 320)

	assert.Equal(t, "thumbs/m1.jpg", f.repo.media["m1"].ThumbnailPath)
}

func TestGetMedia_CrossTenantIsNotFound(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	w := f.do(t, http.MethodGet, "/api/v1/media/m1", "", token(t, "u9", "other-tenant", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

const validDoc = `{
	"version": 2,
	"canvas": {"width": 800, "height": 600},
	"objects": [
		{"type": "arrow", "id": "a1", "x": 0, "y": 0, "points": [0, 0, 100, 100], "color": "#FF0000"}
	]
}`

func TestSaveAnnotation_CreatesVersions(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")
	tok := token(t, "u1", "t1", "")

	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, tok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SaveAnnotationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Version)
	assert.Nil(t, resp.ParentVersion)

	w = f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, tok)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Version)
	require.NotNil(t, resp.ParentVersion)
	assert.Equal(t, 1, *resp.ParentVersion)
}

func TestSaveAnnotation_InvalidColorRejected(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	doc := `{
		"version": 2,
		"canvas": {"width": 800, "height": 600},
		"objects": [
			{"type": "rect", "id": "r1", "x": 0, "y": 0, "width": 10, "height": 10, "color": "notacolor"}
		]
	}`
	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", doc, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Errors, 1)
}

func TestSaveAnnotation_OutOfRangeStrokeIsWarning(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	doc := `{
		"version": 2,
		"canvas": {"width": 800, "height": 600},
		"objects": [
			{"type": "rect", "id": "r1", "x": 0, "y": 0, "width": 10, "height": 10,
			 "color": "#FF0000", "strokeWidth": 999}
		]
	}`
	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", doc, token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SaveAnnotationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Warnings, 1)

	// The stored document holds the sanitized stroke width.
	stored := f.repo.versions["m1"][0]
	assert.Contains(t, string(stored.Document), `"strokeWidth":50`)
}

func TestSaveAnnotation_MalformedJSON(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", `{broken`, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveAnnotation_UnknownMedia(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/v1/media/ghost/annotations", validDoc, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveAnnotation_RejectedWhileLockedByOther(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	_, err := f.locks.Acquire(context.Background(), "m1", "u2", "Kim")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSaveAnnotation_OwnLockAllowsSave(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	_, err := f.locks.Acquire(context.Background(), "m1", "u1", "Sam")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, token(t, "u1", "t1", ""))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSaveAnnotation_SchedulesRender(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusCreated, w.Code)

	require.Contains(t, f.tasks.ran, "render-annotation")

	svg, ok := f.blobs.puts["renders/m1/1.svg"]
	require.True(t, ok, "rendered artifact should be stored")
	assert.Contains(t, string(svg), "<svg")

	assert.Equal(t, "renders/m1/1.svg", f.repo.versions["m1"][0].RenderPath)
}

func TestGetAnnotation_LatestAndSpecific(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")
	tok := token(t, "u1", "t1", "")

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", validDoc, tok)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/media/m1/annotations", "", tok)
	require.Equal(t, http.StatusOK, w.Code)
	var latest models.AnnotationVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, 3, latest.Version)

	w = f.do(t, http.MethodGet, "/api/v1/media/m1/annotations?version=2", "", tok)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.AnnotationVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, 2, second.Version)

	w = f.do(t, http.MethodGet, "/api/v1/media/m1/annotations?version=zero", "", tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLockEndpoints(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")
	sam := token(t, "u1", "t1", "Sam")
	kim := token(t, "u2", "t1", "Kim")

	// Sam takes the lock.
	w := f.do(t, http.MethodPost, "/api/v1/media/m1/lock", "", sam)
	require.Equal(t, http.StatusOK, w.Code)

	// Kim cannot.
	w = f.do(t, http.MethodPost, "/api/v1/media/m1/lock", "", kim)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Kim sees who holds it.
	w = f.do(t, http.MethodGet, "/api/v1/media/m1/lock", "", kim)
	require.Equal(t, http.StatusOK, w.Code)
	var state struct {
		Locked  bool         `json:"locked"`
		OwnLock bool         `json:"own_lock"`
		Lock    *models.Lock `json:"lock"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Locked)
	assert.False(t, state.OwnLock)
	assert.Equal(t, "Sam", state.Lock.HolderName)

	// Kim cannot release Sam's lock.
	w = f.do(t, http.MethodDelete, "/api/v1/media/m1/lock", "", kim)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Sam releases; the resource is free again.
	w = f.do(t, http.MethodDelete, "/api/v1/media/m1/lock", "", sam)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/media/m1/lock", "", sam)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Locked)
}

func TestLockState_ExpiredOwnLockIsNotOwn(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")
	sam := token(t, "u1", "t1", "Sam")

	_, err := f.locks.Acquire(context.Background(), "m1", "u1", "Sam")
	require.NoError(t, err)
	f.locks.mu.Lock()
	f.locks.locks["m1"].ExpiresAt = time.Now().Add(-time.Minute)
	f.locks.mu.Unlock()

	w := f.do(t, http.MethodGet, "/api/v1/media/m1/lock", "", sam)
	require.Equal(t, http.StatusOK, w.Code)
	var state struct {
		Locked  bool `json:"locked"`
		OwnLock bool `json:"own_lock"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Locked)
	assert.False(t, state.OwnLock, "a lapsed lease no longer counts as holding the lock")
}

func TestListJobMedia(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")
	f.addMedia("m2", "t1")
	f.addMedia("m3", "other")

	w := f.do(t, http.MethodGet, "/api/v1/jobs/j1/media", "", token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.MediaRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestSaveAnnotation_StoredDocumentIsSanitized(t *testing.T) {
	f := setup(t)
	f.addMedia("m1", "t1")

	doc := fmt.Sprintf(`{
		"version": 2,
		"canvas": {"width": 800, "height": 600},
		"objects": [
			{"type": "text", "id": "t1", "x": 1, "y": 1, "color": "#FF0000",
			 "text": %q, "fontSize": 14}
		]
	}`, "<b>bold</b> note")
	w := f.do(t, http.MethodPost, "/api/v1/media/m1/annotations", doc, token(t, "u1", "t1", ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	stored := string(f.repo.versions["m1"][0].Document)
	assert.NotContains(t, stored, "<b>")
	assert.Contains(t, stored, "bold")
}
