package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placementmail/internal/models"
	"placementmail/internal/service"
	"placementmail/internal/testutil"
)

const testDriveID = 10

type apiFixture struct {
	router *mux.Router
	store  *testutil.MemoryStore
	dir    *testutil.StaticDirectory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	clock := testutil.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := testutil.NewMemoryStore(clock)

	dir := testutil.NewStaticDirectory()
	dir.AddDrive(models.Drive{ID: testDriveID, CompanyName: "Acme", RoleName: "SDE"},
		testutil.Applicant(1, "asha@college.edu", "Asha Rao", "shortlisted"),
		testutil.Applicant(2, "ben@college.edu", "Ben Thomas", "applied"),
		testutil.Applicant(3, "chen@college.edu", "", "shortlisted"),
	)

	svc := service.NewCampaignService(
		store.Campaigns(),
		store.Jobs(),
		store.Deliveries(),
		service.NewRecipientResolver(dir, nil),
		service.NewTemplateService(),
		service.NewCampaignTracker(store.Campaigns(), store.Jobs(), nil),
		nil,
		nil,
	)

	router := NewRouter(NewCampaignHandler(svc, nil), NewPreviewHandler(svc, nil), nil, nil)
	return &apiFixture{router: router, store: store, dir: dir}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp.Error
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"drive_id":   testDriveID,
		"name":       "Round 2 results",
		"created_by": "tpo@college.edu",
		"blocks": []map[string]interface{}{
			{
				"target":  map[string]interface{}{"type": "by_status", "status": "shortlisted"},
				"subject": "{{company_name}}: you are shortlisted",
				"body":    "<p>Dear {{student_name}}</p>",
			},
			{
				"target":  map[string]interface{}{"type": "manual_remaining", "ids": []int{1, 3}},
				"subject": "{{company_name}} update",
				"body":    "<p>Dear {{first_name}}, thank you.</p>",
			},
		},
	}
}

func (f *apiFixture) createCampaign(t *testing.T) models.Campaign {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/campaigns", createBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c models.Campaign
	decode(t, rec, &c)
	return c
}

func TestCreateCampaign(t *testing.T) {
	f := newAPIFixture(t)

	c := f.createCampaign(t)

	assert.NotZero(t, c.ID)
	assert.Equal(t, models.CampaignStatusDraft, c.Status)
	require.Len(t, c.Blocks, 2)
	assert.Equal(t, models.TargetManualRemaining, c.Blocks[1].Target.Kind())
}

func TestCreateCampaign_BadInput(t *testing.T) {
	tests := []struct {
		name      string
		body      interface{}
		wantCode  string
		wantField string
	}{
		{name: "empty body", body: nil, wantCode: "INVALID_JSON"},
		{name: "malformed json", body: `{"name":`, wantCode: "INVALID_JSON"},
		{
			name:     "unknown target type",
			body:     `{"drive_id":10,"name":"x","blocks":[{"target":{"type":"by_branch"},"subject":"s","body":"b"}]}`,
			wantCode: "INVALID_JSON",
		},
		{
			name: "missing name",
			body: func() map[string]interface{} {
				b := createBody()
				delete(b, "name")
				return b
			}(),
			wantCode:  "VALIDATION_ERROR",
			wantField: "name",
		},
		{
			name: "unterminated placeholder",
			body: func() map[string]interface{} {
				b := createBody()
				b["blocks"].([]map[string]interface{})[1]["body"] = "Dear {{first_name"
				return b
			}(),
			wantCode:  "VALIDATION_ERROR",
			wantField: "blocks[1].body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)

			rec := f.do(t, http.MethodPost, "/campaigns", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			detail := errorOf(t, rec)
			assert.Equal(t, tt.wantCode, detail.Code)
			assert.Equal(t, tt.wantField, detail.Field)
		})
	}
}

func TestSendCampaign(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)
	path := "/campaigns/" + strconv.Itoa(c.ID) + "/send"

	rec := f.do(t, http.MethodPost, path, nil)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var result service.SendCampaignResult
	decode(t, rec, &result)
	// shortlisted {1,3} plus everyone except {1,3}
	assert.Equal(t, 3, result.JobsQueued)
	assert.Equal(t, models.CampaignStatusQueued, result.Status)

	rec = f.do(t, http.MethodPost, path, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &result)
	assert.True(t, result.AlreadyQueued)
	assert.Len(t, f.store.CampaignJobs(c.ID), 3)
}

func TestSendCampaign_DriveMissing(t *testing.T) {
	f := newAPIFixture(t)
	body := createBody()
	body["drive_id"] = 404
	rec := f.do(t, http.MethodPost, "/campaigns", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	decode(t, rec, &c)

	rec = f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DRIVE_NOT_FOUND", errorOf(t, rec).Code)
}

func TestSendCampaign_DirectoryDown(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)
	f.dir.Err = errors.New("connection refused")

	rec := f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "RESOLUTION_ERROR", errorOf(t, rec).Code)
	assert.Equal(t, models.CampaignStatusDraft, f.store.CampaignStatus(c.ID))
}

func TestGetCampaign_Report(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)
	f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)

	rec := f.do(t, http.MethodGet, "/campaigns/"+strconv.Itoa(c.ID), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report models.CampaignReport
	decode(t, rec, &report)
	assert.Equal(t, models.CampaignStatusQueued, report.Status)
	assert.Equal(t, 3, report.Totals.Total)
	assert.Equal(t, 3, report.Totals.Pending)
	require.Len(t, report.Blocks, 2)
	assert.Equal(t, 2, report.Blocks[0].Counts.Total)
}

func TestGetCampaign_Errors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/campaigns/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "id", errorOf(t, rec).Field)

	rec = f.do(t, http.MethodGet, "/campaigns/0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/campaigns/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorOf(t, rec).Code)
}

func TestCancelCampaign(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)
	f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)

	rec := f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var result service.CancelCampaignResult
	decode(t, rec, &result)
	assert.Equal(t, models.CampaignStatusCancelled, result.Status)
	assert.Equal(t, 3, result.JobsCancelled)

	rec = f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BUSINESS_LOGIC_ERROR", errorOf(t, rec).Code)
}

func TestListCampaigns(t *testing.T) {
	f := newAPIFixture(t)
	f.createCampaign(t)
	f.createCampaign(t)

	rec := f.do(t, http.MethodGet, "/campaigns?status=draft&per_page=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListCampaignsResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Campaigns, 1)
	assert.Equal(t, 2, resp.Pagination.TotalCount)
	assert.Equal(t, 2, resp.Pagination.TotalPages)

	rec = f.do(t, http.MethodGet, "/campaigns?status=sent", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status", errorOf(t, rec).Field)
}

func TestListJobsAndDeliveries(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)
	f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/send", nil)

	rec := f.do(t, http.MethodGet, "/campaigns/"+strconv.Itoa(c.ID)+"/jobs?status=pending", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListJobsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Jobs, 3)

	rec = f.do(t, http.MethodGet, "/jobs/"+resp.Jobs[0].ID.String()+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deliveries ListDeliveriesResponse
	decode(t, rec, &deliveries)
	assert.Empty(t, deliveries.Deliveries)

	rec = f.do(t, http.MethodGet, "/campaigns/"+strconv.Itoa(c.ID)+"/jobs?status=bounced", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/jobs/not-a-uuid/deliveries", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveRecipients(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/drives/10/resolve-recipients", map[string]interface{}{
		"target": map[string]interface{}{"type": "manual_selected", "ids": []int{2, 3, 99}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview service.RecipientPreview
	decode(t, rec, &preview)
	assert.Equal(t, 2, preview.Count)
	assert.Equal(t, []int{99}, preview.Dropped)

	rec = f.do(t, http.MethodPost, "/drives/10/resolve-recipients", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "target", errorOf(t, rec).Field)
}

func TestPreviewEmail(t *testing.T) {
	f := newAPIFixture(t)
	c := f.createCampaign(t)

	rec := f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/preview-email", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview service.EmailPreview
	decode(t, rec, &preview)
	assert.Equal(t, 1, preview.BlockOrder)
	assert.Equal(t, 1, preview.Recipient.ID)
	assert.Equal(t, "Acme: you are shortlisted", preview.Subject)
	assert.Equal(t, "<p>Dear Asha Rao</p>", preview.Body)

	rec = f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/preview-email", map[string]interface{}{
		"block_order":   2,
		"body_override": "Hi {{first_name}} from {{college}}",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &preview)
	assert.Equal(t, 2, preview.Recipient.ID)
	assert.Equal(t, "Hi Ben from {{college}}", preview.Body)
	assert.Equal(t, []string{"college"}, preview.UnknownPlaceholders)

	rec = f.do(t, http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/preview-email", map[string]interface{}{"block_order": 9})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/students", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ROUTE_NOT_FOUND", errorOf(t, rec).Code)

	rec = f.do(t, http.MethodDelete, "/campaigns", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
