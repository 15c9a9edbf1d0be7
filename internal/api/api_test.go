package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pccr10001/modemd/internal/hotplug"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/internal/registry"
	"github.com/pccr10001/modemd/internal/repository"
	"github.com/pccr10001/modemd/internal/worker"
)

type fakeMonitor struct {
	status    hotplug.Status
	rescanErr error
	rescans   int
}

func (f *fakeMonitor) Status() hotplug.Status { return f.status }

func (f *fakeMonitor) Rescan(ctx context.Context) error {
	f.rescans++
	return f.rescanErr
}

type fakeModems struct {
	lastCmd string
	err     error
}

func (f *fakeModems) Get(handle string) (worker.ModemStatus, bool) {
	return worker.ModemStatus{Handle: handle, Driver: "he910", Port: "/dev/ttyACM0", Registered: true}, true
}

func (f *fakeModems) ExecuteAT(handle, cmd string, timeout time.Duration) (string, error) {
	f.lastCmd = cmd
	if f.err != nil {
		return "", f.err
	}
	return "Telit", nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func openDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "modemd.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Attachment{}, &model.Webhook{}))
	return db
}

func do(r http.Handler, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registered() hotplug.Status {
	return hotplug.Status{Snapshot: registry.Snapshot{State: "registered", Handle: "h1"}, Phase: "waiting", Hotplug: true}
}

func TestGetModem(t *testing.T) {
	r := NewRouter(Deps{Monitor: &fakeMonitor{status: registered()}, Modems: &fakeModems{}})
	w := do(r, http.MethodGet, "/api/v1/modem", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "registered", body["state"])
	assert.Equal(t, "h1", body["handle"])
	driver := body["driver"].(map[string]interface{})
	assert.Equal(t, "/dev/ttyACM0", driver["port"])
}

func TestRescanStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{registry.ErrBusy, http.StatusConflict},
		{registry.ErrNoModem, http.StatusNotFound},
		{fmt.Errorf("%w: he910", registry.ErrIncomplete), http.StatusUnprocessableEntity},
		{registry.ErrStaleNode, http.StatusUnprocessableEntity},
		{registry.ErrProvision, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		mon := &fakeMonitor{rescanErr: tt.err}
		r := NewRouter(Deps{Monitor: mon})
		w := do(r, http.MethodPost, "/api/v1/modem/rescan", nil)
		assert.Equal(t, tt.code, w.Code, "%v", tt.err)
		assert.Equal(t, 1, mon.rescans)
	}
}

func TestExecuteAT(t *testing.T) {
	modems := &fakeModems{}
	r := NewRouter(Deps{Monitor: &fakeMonitor{status: registered()}, Modems: modems})

	w := do(r, http.MethodPost, "/api/v1/modem/at", map[string]interface{}{"cmd": "ATI"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Telit")
	assert.Equal(t, "ATI", modems.lastCmd)

	w = do(r, http.MethodPost, "/api/v1/modem/at", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	modems.err = worker.ErrBusy
	w = do(r, http.MethodPost, "/api/v1/modem/at", map[string]interface{}{"cmd": "ATI"})
	assert.Equal(t, http.StatusConflict, w.Code)

	r = NewRouter(Deps{Monitor: &fakeMonitor{status: hotplug.Status{Snapshot: registry.Snapshot{State: "absent"}}}, Modems: modems})
	w = do(r, http.MethodPost, "/api/v1/modem/at", map[string]interface{}{"cmd": "ATI"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFamilies(t *testing.T) {
	r := NewRouter(Deps{Monitor: &fakeMonitor{}})
	w := do(r, http.MethodGet, "/api/v1/families", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []FamilyInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 22)
	for _, f := range list {
		assert.True(t, f.HasRule, f.Family)
		assert.NotEmpty(t, f.Devices, f.Family)
		if f.Family == "hso" {
			assert.Equal(t, "hsotype", f.Requires)
		}
	}
}

func TestAttachmentsAndWebhooks(t *testing.T) {
	db := openDB(t)
	attachments := repository.NewAttachmentRepository(db)
	require.NoError(t, attachments.Create(&model.Attachment{Handle: "h1", Family: "gobi", Status: "detached", AttachedAt: time.Now()}))

	r := NewRouter(Deps{
		Monitor:     &fakeMonitor{},
		Attachments: attachments,
		Webhooks:    repository.NewWebhookRepository(db),
	})

	w := do(r, http.MethodGet, "/api/v1/attachments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"handle":"h1"`)

	w = do(r, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{"url": "http://hook", "family": "gobi", "platform": "slack"})
	require.Equal(t, http.StatusOK, w.Code)
	var created model.Webhook
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)

	w = do(r, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{"family": "gobi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/webhooks?family=he910", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/v1/webhooks/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, "/api/v1/webhooks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenAuth(t *testing.T) {
	r := NewRouter(Deps{Monitor: &fakeMonitor{}, Token: "s3cret"})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/modem", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/modem", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/modem", nil, "Authorization", "s3cret").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/modem", nil, "Authorization", "Bearer s3cret").Code)
}
