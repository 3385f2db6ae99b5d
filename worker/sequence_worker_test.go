package worker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pipelinecrm/config"
	"pipelinecrm/models"
	"pipelinecrm/utils"
)

// fakeProvider is an httptest stand-in for the mail provider send API.
// It records every raw message it accepts and can be switched into a
// failure mode.
type fakeProvider struct {
	mu       sync.Mutex
	server   *httptest.Server
	failing  bool
	rawSends []string
	nextID   int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}
	fp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		if fp.failing {
			http.Error(w, `{"error":"backend unavailable"}`, http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Raw string `json:"raw"`
		}
		_ = json.Unmarshal(body, &payload)
		decoded, _ := base64.RawURLEncoding.DecodeString(payload.Raw)
		fp.rawSends = append(fp.rawSends, string(decoded))
		fp.nextID++
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("prov-%d", fp.nextID)})
	}))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) setFailing(failing bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.failing = failing
}

func (fp *fakeProvider) sends() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.rawSends...)
}

type workerFixture struct {
	db       *gorm.DB
	worker   *SequenceWorker
	provider *fakeProvider
	org      models.Organization
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	prev := config.AppConfig.EncryptionKey
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"
	t.Cleanup(func() { config.AppConfig.EncryptionKey = prev })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))

	provider := newFakeProvider(t)

	org := models.Organization{Name: "Test Org"}
	require.NoError(t, db.Create(&org).Error)

	token, err := utils.Encrypt("access-token")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.MailConnection{
		OrganizationID: org.ID,
		Provider:       models.ProviderGoogle,
		FromEmail:      "sales@ourcrm.test",
		FromName:       "Our CRM",
		IsDefault:      true,
		OAuthToken:     token,
		OAuthExpiry:    time.Now().Add(24 * time.Hour),
	}).Error)

	mailer := &utils.Mailer{
		DB:         db,
		HTTPClient: provider.server.Client(),
		BaseURL:    provider.server.URL,
	}
	sw := NewSequenceWorker(db, mailer, log.New(io.Discard, "", 0))

	return &workerFixture{db: db, worker: sw, provider: provider, org: org}
}

func (f *workerFixture) createCompany(t *testing.T, name, domain string) models.Company {
	t.Helper()
	company := models.Company{
		OrganizationID: f.org.ID,
		Name:           name,
		Domain:         domain,
		Industry:       "Testing",
	}
	require.NoError(t, f.db.Create(&company).Error)
	return company
}

func (f *workerFixture) createSequence(t *testing.T, steps []models.SequenceStep) models.Sequence {
	t.Helper()
	sequence := models.Sequence{
		OrganizationID: f.org.ID,
		Name:           "Outreach",
		FromName:       "Our CRM",
		FromEmail:      "sales@ourcrm.test",
		Steps:          steps,
	}
	require.NoError(t, f.db.Create(&sequence).Error)
	return sequence
}

func (f *workerFixture) reloadAssignment(t *testing.T, id uint) models.SequenceAssignment {
	t.Helper()
	var a models.SequenceAssignment
	require.NoError(t, f.db.First(&a, id).Error)
	return a
}

func TestAssignIsIdempotentPerPair(t *testing.T) {
	f := newWorkerFixture(t)
	company := f.createCompany(t, "Acme", "acme.test")
	sequence := f.createSequence(t, []models.SequenceStep{{Subject: "Hi"}})

	first, created, err := AssignCompanyToSequence(f.db, f.org.ID, company.ID, sequence.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, first.CurrentStep)
	assert.Equal(t, models.AssignmentStatusActive, first.Status)
	require.NotNil(t, first.NextSendAt)

	second, created, err := AssignCompanyToSequence(f.db, f.org.ID, company.ID, sequence.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	f.db.Model(&models.SequenceAssignment{}).
		Where("company_id = ? AND sequence_id = ?", company.ID, sequence.ID).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAssignUnknownIDs(t *testing.T) {
	f := newWorkerFixture(t)
	company := f.createCompany(t, "Acme", "acme.test")
	sequence := f.createSequence(t, []models.SequenceStep{{Subject: "Hi"}})

	_, _, err := AssignCompanyToSequence(f.db, f.org.ID, 9999, sequence.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company 9999 not found")

	_, _, err = AssignCompanyToSequence(f.db, f.org.ID, company.ID, 9999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence 9999 not found")
}

func TestDueWindowBoundaries(t *testing.T) {
	f := newWorkerFixture(t)
	sequence := f.createSequence(t, []models.SequenceStep{{Subject: "Hi {{company_name}}"}})

	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	dayStart := utils.StartOfDay(now)

	cases := []struct {
		name     string
		nextSend time.Time
		wantDue  bool
	}{
		{"yesterday 23:59", dayStart.Add(-1 * time.Minute), false},
		{"today 00:00:00", dayStart, true},
		{"today 23:59:59", dayStart.Add(24*time.Hour - time.Second), true},
		{"tomorrow 00:00:00", dayStart.Add(24 * time.Hour), false},
	}

	assignmentIDs := make(map[string]uint)
	for i, tc := range cases {
		company := f.createCompany(t, fmt.Sprintf("Company %d", i), fmt.Sprintf("c%d.test", i))
		a := models.SequenceAssignment{
			OrganizationID: f.org.ID,
			CompanyID:      company.ID,
			SequenceID:     sequence.ID,
			Status:         models.AssignmentStatusActive,
			EnrolledAt:     tc.nextSend,
			NextSendAt:     &tc.nextSend,
		}
		require.NoError(t, f.db.Create(&a).Error)
		assignmentIDs[tc.name] = a.ID
	}

	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Failed)

	for _, tc := range cases {
		a := f.reloadAssignment(t, assignmentIDs[tc.name])
		if tc.wantDue {
			assert.Equal(t, models.AssignmentStatusCompleted, a.Status, tc.name)
		} else {
			assert.Equal(t, models.AssignmentStatusActive, a.Status, tc.name)
			assert.Equal(t, 0, a.CurrentStep, tc.name)
		}
	}
}

func TestEndToEndTwoStepScenario(t *testing.T) {
	f := newWorkerFixture(t)
	sequence := f.createSequence(t, []models.SequenceStep{
		{DelayDays: 0, Subject: "Hi {{company_name}}", Body: "Intro for {{company_name}}"},
		{DelayDays: 3, Subject: "Follow up", Body: "Checking in"},
	})
	// No contacts: recipient must fall back to info@<domain>
	company := f.createCompany(t, "Acme", "acme.test")

	enrollT := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     enrollT,
		NextSendAt:     &enrollT,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	// Pass at T sends step 0
	report, err := f.worker.ProcessDueAssignments(enrollT)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	sends := f.provider.sends()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0], "To: info@acme.test\r\n")
	assert.Contains(t, sends[0], "Subject: Hi Acme\r\n")
	// Missing contact name is visible, not dropped
	assert.Contains(t, sends[0], "Intro for Acme")

	a := f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, 1, a.CurrentStep)
	assert.Equal(t, models.AssignmentStatusActive, a.Status)
	require.NotNil(t, a.NextSendAt)
	assert.True(t, a.NextSendAt.Equal(enrollT.AddDate(0, 0, 3)),
		"next_send_at = %v, want %v", a.NextSendAt, enrollT.AddDate(0, 0, 3))

	// Pass at T+1d selects nothing
	report, err = f.worker.ProcessDueAssignments(enrollT.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	// Pass at T+3d sends the follow-up and completes the assignment
	report, err = f.worker.ProcessDueAssignments(enrollT.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	a = f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, models.AssignmentStatusCompleted, a.Status)
	assert.Equal(t, 1, a.CurrentStep)
	assert.Nil(t, a.NextSendAt)
	require.NotNil(t, a.CompletedAt)

	var logs []models.SequenceSendLog
	require.NoError(t, f.db.Where("assignment_id = ?", assignment.ID).
		Order("created_at ASC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, models.SendStatusSent, logs[0].Status)
	assert.Equal(t, 0, logs[0].StepIndex)
	assert.Equal(t, "prov-1", logs[0].ProviderMessageID)
	assert.Equal(t, models.SendStatusSent, logs[1].Status)
	assert.Equal(t, 1, logs[1].StepIndex)
}

func TestProgressionMonotonicity(t *testing.T) {
	f := newWorkerFixture(t)
	steps := []models.SequenceStep{
		{DelayDays: 0, Subject: "One"},
		{DelayDays: 0, Subject: "Two"},
		{DelayDays: 0, Subject: "Three"},
	}
	sequence := f.createSequence(t, steps)
	company := f.createCompany(t, "Acme", "acme.test")

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		NextSendAt:     &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	// Zero-delay steps stay due within the same day, so N passes send
	// all N steps
	for i := 0; i < len(steps); i++ {
		report, err := f.worker.ProcessDueAssignments(now)
		require.NoError(t, err)
		require.Equal(t, 1, report.Sent, "pass %d", i)
	}

	a := f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, models.AssignmentStatusCompleted, a.Status)
	assert.Equal(t, len(steps)-1, a.CurrentStep)
	assert.Nil(t, a.NextSendAt)

	// Completed assignments are never reselected
	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
}

func TestNoAdvanceOnFailure(t *testing.T) {
	f := newWorkerFixture(t)
	sequence := f.createSequence(t, []models.SequenceStep{
		{DelayDays: 0, Subject: "Hi"},
		{DelayDays: 2, Subject: "Follow up"},
	})
	company := f.createCompany(t, "Acme", "acme.test")

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		NextSendAt:     &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	f.provider.setFailing(true)
	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Failed)

	// Step and schedule unchanged
	a := f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, 0, a.CurrentStep)
	assert.Equal(t, models.AssignmentStatusActive, a.Status)
	require.NotNil(t, a.NextSendAt)
	assert.True(t, a.NextSendAt.Equal(now), "next_send_at changed on failure")

	// Exactly one failed log entry, and no sent entries
	var logs []models.SequenceSendLog
	require.NoError(t, f.db.Where("assignment_id = ?", assignment.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SendStatusFailed, logs[0].Status)
	assert.NotEmpty(t, logs[0].ErrorText)
	assert.Empty(t, logs[0].ProviderMessageID)

	// The item stays due and succeeds on the next pass once the
	// provider recovers
	f.provider.setFailing(false)
	report, err = f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	a = f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, 1, a.CurrentStep)
}

func TestPauseIndependence(t *testing.T) {
	f := newWorkerFixture(t)
	steps := []models.SequenceStep{
		{DelayDays: 0, Subject: "1"}, {DelayDays: 0, Subject: "2"},
		{DelayDays: 0, Subject: "3"}, {DelayDays: 0, Subject: "4"},
		{DelayDays: 0, Subject: "5"},
	}
	sequence := f.createSequence(t, steps)
	company := f.createCompany(t, "Acme", "acme.test")

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		NextSendAt:     &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	// Send steps 0 and 1, then pause after the second success
	for i := 0; i < 2; i++ {
		report, err := f.worker.ProcessDueAssignments(now)
		require.NoError(t, err)
		require.Equal(t, 1, report.Sent)
	}

	paused, err := PauseAssignment(f.db, f.org.ID, company.ID, sequence.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), paused)

	a := f.reloadAssignment(t, assignment.ID)
	assert.Equal(t, models.AssignmentStatusPaused, a.Status)
	assert.Equal(t, 2, a.CurrentStep)

	var logCount int64
	f.db.Model(&models.SequenceSendLog{}).
		Where("assignment_id = ?", assignment.ID).Count(&logCount)

	// A subsequent pass must not touch the paused assignment
	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	var afterCount int64
	f.db.Model(&models.SequenceSendLog{}).
		Where("assignment_id = ?", assignment.ID).Count(&afterCount)
	assert.Equal(t, logCount, afterCount)
}

func TestPrimaryContactIsFirstByCreationOrder(t *testing.T) {
	f := newWorkerFixture(t)
	sequence := f.createSequence(t, []models.SequenceStep{
		{Subject: "Hi {{contact_name}}"},
	})
	company := f.createCompany(t, "Acme", "acme.test")

	first := models.Contact{
		OrganizationID: f.org.ID, CompanyID: company.ID,
		Name: "Jane Doe", Email: "jane@acme.test",
		Model: gorm.Model{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	second := models.Contact{
		OrganizationID: f.org.ID, CompanyID: company.ID,
		Name: "John Roe", Email: "john@acme.test",
		Model: gorm.Model{CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, f.db.Create(&second).Error)
	require.NoError(t, f.db.Create(&first).Error)

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		NextSendAt:     &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)

	sends := f.provider.sends()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0], "To: jane@acme.test\r\n")
	assert.Contains(t, sends[0], "Subject: Hi Jane Doe\r\n")

	var entry models.SequenceSendLog
	require.NoError(t, f.db.Where("assignment_id = ?", assignment.ID).First(&entry).Error)
	require.NotNil(t, entry.ContactID)
	assert.Equal(t, first.ID, *entry.ContactID)
}

func TestNoConnectionIsAFailedItem(t *testing.T) {
	f := newWorkerFixture(t)
	// Drop the default connection seeded by the fixture
	require.NoError(t, f.db.Unscoped().
		Where("organization_id = ?", f.org.ID).
		Delete(&models.MailConnection{}).Error)

	sequence := f.createSequence(t, []models.SequenceStep{{Subject: "Hi"}})
	company := f.createCompany(t, "Acme", "acme.test")

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusActive,
		EnrolledAt:     now,
		NextSendAt:     &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	report, err := f.worker.ProcessDueAssignments(now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	var entry models.SequenceSendLog
	require.NoError(t, f.db.Where("assignment_id = ?", assignment.ID).First(&entry).Error)
	assert.Equal(t, models.SendStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorText, "no mail connection configured")
}

func TestPauseSkipsCompletedAssignments(t *testing.T) {
	f := newWorkerFixture(t)
	sequence := f.createSequence(t, []models.SequenceStep{{Subject: "Hi"}})
	company := f.createCompany(t, "Acme", "acme.test")

	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	assignment := models.SequenceAssignment{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		SequenceID:     sequence.ID,
		Status:         models.AssignmentStatusCompleted,
		EnrolledAt:     now,
		CompletedAt:    &now,
	}
	require.NoError(t, f.db.Create(&assignment).Error)

	paused, err := PauseAssignment(f.db, f.org.ID, company.ID, sequence.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), paused)
}
