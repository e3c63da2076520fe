package invoices

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/internal/students"
	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

func setupInvoicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  full_name TEXT NOT NULL,
  role TEXT NOT NULL,
  telegram_chat_id TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS student_profiles (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL UNIQUE,
  parent_id TEXT,
  tutor_id TEXT,
  grade_name TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS subjects (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS enrollments (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  subject_id TEXT NOT NULL,
  tutor_id TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  gateway_payment_id TEXT NOT NULL UNIQUE,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL DEFAULT 'pending',
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  tutor_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  parent_id TEXT NOT NULL,
  enrollment_id TEXT,
  payment_id TEXT UNIQUE,
  amount TEXT NOT NULL,
  description TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  due_date DATETIME NOT NULL,
  sent_at DATETIME,
  viewed_at DATETIME,
  paid_at DATETIME,
  external_message_ref TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS invoice_status_history (
  id TEXT PRIMARY KEY,
  invoice_id TEXT NOT NULL,
  old_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  changed_by TEXT NOT NULL,
  reason TEXT,
  changed_at DATETIME
);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingNotifier struct {
	events []enums.NotificationEvent
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type recordingBroadcaster struct {
	events []enums.NotificationEvent
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error {
	b.events = append(b.events, event)
	return nil
}

type recordingMessenger struct {
	ref    string
	events []enums.NotificationEvent
}

func (m *recordingMessenger) DeliverInvoiceMessage(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) (*string, error) {
	m.events = append(m.events, event)
	if m.ref == "" {
		return nil, nil
	}
	ref := m.ref
	return &ref, nil
}

type recordingInvalidator struct {
	tutors []uuid.UUID
}

func (r *recordingInvalidator) InvalidateTutor(ctx context.Context, tutorID uuid.UUID) {
	r.tutors = append(r.tutors, tutorID)
}

type invoiceTestEnv struct {
	db          *gorm.DB
	svc         Service
	repo        Repository
	notifier    *recordingNotifier
	broadcaster *recordingBroadcaster
	messenger   *recordingMessenger
	invalidator *recordingInvalidator
	now         *time.Time

	tutor   *models.User
	parent  *models.User
	student *models.User
}

func newInvoiceTestEnv(t *testing.T) *invoiceTestEnv {
	t.Helper()
	db := setupInvoicesTestDB(t)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	messenger := &recordingMessenger{ref: "chat:77"}
	invalidator := &recordingInvalidator{}

	fanout, err := NewFanout(notifier, broadcaster, messenger, invalidator, logg)
	require.NoError(t, err)

	directory, err := students.NewService(students.NewRepository(db))
	require.NoError(t, err)

	repo := NewRepository(db)
	baseTime := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := baseTime
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Directory: directory,
		Tx:        gormTxRunner{db: db},
		Fanout:    fanout,
		Logger:    logg,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	env := &invoiceTestEnv{
		db:          db,
		svc:         svc,
		repo:        repo,
		notifier:    notifier,
		broadcaster: broadcaster,
		messenger:   messenger,
		invalidator: invalidator,
		now:         &now,
	}
	env.tutor = env.newUser(t, enums.UserRoleTutor)
	env.parent = env.newUser(t, enums.UserRoleParent)
	env.student = env.newUser(t, enums.UserRoleStudent)
	profile := &models.StudentProfile{
		ID:        uuid.New(),
		StudentID: env.student.ID,
		ParentID:  &env.parent.ID,
		TutorID:   &env.tutor.ID,
	}
	require.NoError(t, db.Create(profile).Error)
	return env
}

func (e *invoiceTestEnv) newUser(t *testing.T, role enums.UserRole) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		FullName: "Test User",
		Role:     role,
		Active:   true,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *invoiceTestEnv) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

func (e *invoiceTestEnv) createDraft(t *testing.T) *models.Invoice {
	t.Helper()
	invoice, err := e.svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		TutorID:     e.tutor.ID,
		StudentID:   e.student.ID,
		Amount:      decimal.RequireFromString("5000.00"),
		Description: "May tutoring sessions",
		DueDate:     e.now.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return invoice
}

func (e *invoiceTestEnv) history(t *testing.T, invoiceID uuid.UUID) []models.InvoiceStatusHistory {
	t.Helper()
	rows, err := e.repo.ListHistory(context.Background(), invoiceID)
	require.NoError(t, err)
	return rows
}

func TestCreateInvoiceDerivesParentAndWritesHistory(t *testing.T) {
	env := newInvoiceTestEnv(t)

	invoice := env.createDraft(t)
	require.Equal(t, enums.InvoiceStatusDraft, invoice.Status)
	require.Equal(t, env.parent.ID, invoice.ParentID)

	rows := env.history(t, invoice.ID)
	require.Len(t, rows, 1)
	require.Equal(t, enums.InvoiceStatusDraft, rows[0].OldStatus)
	require.Equal(t, enums.InvoiceStatusDraft, rows[0].NewStatus)
	require.Equal(t, env.tutor.ID, rows[0].ChangedBy)

	// Creation invalidates the tutor's cached reports.
	require.Contains(t, env.invalidator.tutors, env.tutor.ID)
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	base := CreateInvoiceInput{
		TutorID:     env.tutor.ID,
		StudentID:   env.student.ID,
		Amount:      decimal.RequireFromString("100.00"),
		Description: "Sessions",
		DueDate:     env.now.Add(24 * time.Hour),
	}

	zeroAmount := base
	zeroAmount.Amount = decimal.Zero
	_, err := env.svc.CreateInvoice(ctx, zeroAmount)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	negative := base
	negative.Amount = decimal.RequireFromString("-5")
	_, err = env.svc.CreateInvoice(ctx, negative)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	blank := base
	blank.Description = "   "
	_, err = env.svc.CreateInvoice(ctx, blank)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	pastDue := base
	pastDue.DueDate = env.now.Add(-48 * time.Hour)
	_, err = env.svc.CreateInvoice(ctx, pastDue)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateInvoiceDescriptionLimitCountsRunes(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	base := CreateInvoiceInput{
		TutorID:   env.tutor.ID,
		StudentID: env.student.ID,
		Amount:    decimal.RequireFromString("100.00"),
		DueDate:   env.now.Add(24 * time.Hour),
	}

	// 1500 characters but 3000 bytes: within the character limit.
	multibyte := base
	multibyte.Description = strings.Repeat("é", 1500)
	invoice, err := env.svc.CreateInvoice(ctx, multibyte)
	require.NoError(t, err)
	require.Equal(t, 1500, utf8.RuneCountInString(invoice.Description))

	tooLong := base
	tooLong.Description = strings.Repeat("é", 2001)
	_, err = env.svc.CreateInvoice(ctx, tooLong)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateInvoiceDuplicateGuard(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	input := CreateInvoiceInput{
		TutorID:     env.tutor.ID,
		StudentID:   env.student.ID,
		Amount:      decimal.RequireFromString("250.00"),
		Description: "Weekly algebra",
		DueDate:     env.now.Add(24 * time.Hour),
	}
	first, err := env.svc.CreateInvoice(ctx, input)
	require.NoError(t, err)

	_, err = env.svc.CreateInvoice(ctx, input)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateInvoice))

	// A different description is a legitimate separate charge.
	other := input
	other.Description = "Weekly geometry"
	_, err = env.svc.CreateInvoice(ctx, other)
	require.NoError(t, err)

	// Cancelling the first frees the billing facts for reuse.
	_, err = env.svc.CancelInvoice(ctx, first.ID, env.tutor.ID, nil)
	require.NoError(t, err)
	_, err = env.svc.CreateInvoice(ctx, input)
	require.NoError(t, err)
}

func TestCreateInvoiceEnrollmentChecks(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	subject := &models.Subject{ID: uuid.New(), Name: "Physics"}
	require.NoError(t, env.db.Create(subject).Error)
	enrollment := &models.Enrollment{
		ID:        uuid.New(),
		StudentID: env.student.ID,
		SubjectID: subject.ID,
		TutorID:   &env.tutor.ID,
		Active:    true,
	}
	require.NoError(t, env.db.Create(enrollment).Error)

	input := CreateInvoiceInput{
		TutorID:      env.tutor.ID,
		StudentID:    env.student.ID,
		Amount:       decimal.RequireFromString("300.00"),
		Description:  "Physics block",
		DueDate:      env.now.Add(24 * time.Hour),
		EnrollmentID: &enrollment.ID,
	}
	invoice, err := env.svc.CreateInvoice(ctx, input)
	require.NoError(t, err)
	require.NotNil(t, invoice.EnrollmentID)

	unknown := uuid.New()
	bad := input
	bad.Description = "Different charge"
	bad.EnrollmentID = &unknown
	_, err = env.svc.CreateInvoice(ctx, bad)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidEnrollment))
}

func TestSendInvoiceTransitions(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()
	invoice := env.createDraft(t)

	env.advance(time.Minute)
	sent, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	require.False(t, sent.SentAt.Before(sent.CreatedAt))

	// Messenger ref is stored for later edits.
	require.Equal(t, "chat:77", *sent.ExternalMessageRef)
	require.Equal(t, []enums.NotificationEvent{enums.NotificationEventInvoiceSent}, env.notifier.events)

	// Second send fails and sent_at is unchanged.
	firstSentAt := *sent.SentAt
	_, err = env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidStatus))
	reloaded, err := env.repo.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	require.True(t, firstSentAt.Equal(*reloaded.SentAt))
}

func TestSendInvoicePermission(t *testing.T) {
	env := newInvoiceTestEnv(t)
	invoice := env.createDraft(t)

	otherTutor := env.newUser(t, enums.UserRoleTutor)
	_, err := env.svc.SendInvoice(context.Background(), invoice.ID, otherTutor.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePermissionDenied))

	_, err = env.svc.SendInvoice(context.Background(), uuid.New(), env.tutor.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestMarkViewedIdempotent(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()
	invoice := env.createDraft(t)

	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)

	env.advance(time.Minute)
	viewed, err := env.svc.MarkViewed(ctx, invoice.ID, env.parent.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusViewed, viewed.Status)
	require.NotNil(t, viewed.ViewedAt)
	firstViewedAt := *viewed.ViewedAt

	env.advance(time.Minute)
	again, err := env.svc.MarkViewed(ctx, invoice.ID, env.parent.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusViewed, again.Status)
	require.True(t, firstViewedAt.Equal(*again.ViewedAt))

	// Only one viewed transition in history.
	rows := env.history(t, invoice.ID)
	viewedRows := 0
	for _, row := range rows {
		if row.NewStatus == enums.InvoiceStatusViewed {
			viewedRows++
		}
	}
	require.Equal(t, 1, viewedRows)
}

func TestMarkViewedPermissionAndStatus(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()
	invoice := env.createDraft(t)

	// Draft invoices cannot be viewed.
	_, err := env.svc.MarkViewed(ctx, invoice.ID, env.parent.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidStatus))

	// Another parent is rejected before any status check.
	otherParent := env.newUser(t, enums.UserRoleParent)
	_, err = env.svc.MarkViewed(ctx, invoice.ID, otherParent.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePermissionDenied))
}

func (e *invoiceTestEnv) newSucceededPayment(t *testing.T, amount string, paidAt time.Time) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ID:               uuid.New(),
		GatewayPaymentID: "pi_" + uuid.NewString(),
		Amount:           decimal.RequireFromString(amount),
		Currency:         "usd",
		Status:           enums.PaymentStatusSucceeded,
		PaidAt:           &paidAt,
	}
	require.NoError(t, e.db.Create(payment).Error)
	return payment
}

func TestFullLifecycleHistoryHasFourRows(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	env.advance(time.Hour)
	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)
	env.advance(time.Hour)
	_, err = env.svc.MarkViewed(ctx, invoice.ID, env.parent.ID)
	require.NoError(t, err)
	env.advance(time.Hour)

	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	paid, err := env.svc.ProcessPayment(ctx, invoice.ID, payment)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.False(t, paid.PaidAt.Before(*paid.ViewedAt))

	rows := env.history(t, invoice.ID)
	require.Len(t, rows, 4)
	require.Equal(t, enums.InvoiceStatusDraft, rows[0].NewStatus)
	require.Equal(t, enums.InvoiceStatusSent, rows[1].NewStatus)
	require.Equal(t, enums.InvoiceStatusViewed, rows[2].NewStatus)
	require.Equal(t, enums.InvoiceStatusPaid, rows[3].NewStatus)
}

func TestProcessPaymentBackfillsTimestamps(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	env.advance(time.Hour)
	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)

	// Pay straight from sent; viewed_at is backfilled to the payment instant.
	env.advance(time.Hour)
	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	paid, err := env.svc.ProcessPayment(ctx, invoice.ID, payment)
	require.NoError(t, err)
	require.NotNil(t, paid.ViewedAt)
	require.True(t, paid.ViewedAt.Equal(*paid.PaidAt))
	require.False(t, paid.PaidAt.Before(*paid.SentAt))
}

func TestProcessPaymentGuards(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)

	// Pending payments are not payable.
	pending := &models.Payment{
		ID:               uuid.New(),
		GatewayPaymentID: "pi_pending",
		Amount:           decimal.RequireFromString("5000.00"),
		Status:           enums.PaymentStatusPending,
	}
	require.NoError(t, env.db.Create(pending).Error)
	_, err = env.svc.ProcessPayment(ctx, invoice.ID, pending)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePaymentError))

	// A payment linked to a different invoice is rejected.
	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	_, err = env.svc.ProcessPayment(ctx, invoice.ID, payment)
	require.NoError(t, err)

	second, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		TutorID:     env.tutor.ID,
		StudentID:   env.student.ID,
		Amount:      decimal.RequireFromString("777.00"),
		Description: "Another block",
		DueDate:     env.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = env.svc.SendInvoice(ctx, second.ID, env.tutor.ID)
	require.NoError(t, err)
	_, err = env.svc.ProcessPayment(ctx, second.ID, payment)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePaymentError))
}

func TestProcessPaymentOnCancelledFails(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)
	_, err = env.svc.CancelInvoice(ctx, invoice.ID, env.tutor.ID, nil)
	require.NoError(t, err)

	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	_, err = env.svc.ProcessPayment(ctx, invoice.ID, payment)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidStatus))
}

func TestCancelInvoiceRules(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	reason := "student left"
	cancelled, err := env.svc.CancelInvoice(ctx, invoice.ID, env.tutor.ID, &reason)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusCancelled, cancelled.Status)

	// Cancelling again is a no-op with no extra history.
	again, err := env.svc.CancelInvoice(ctx, invoice.ID, env.tutor.ID, &reason)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusCancelled, again.Status)
	rows := env.history(t, invoice.ID)
	require.Len(t, rows, 2)
	require.Equal(t, reason, *rows[1].Reason)

	// Paid invoices cannot be cancelled.
	paid := env.createDraft(t)
	_, err = env.svc.SendInvoice(ctx, paid.ID, env.tutor.ID)
	require.NoError(t, err)
	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	_, err = env.svc.ProcessPayment(ctx, paid.ID, payment)
	require.NoError(t, err)
	_, err = env.svc.CancelInvoice(ctx, paid.ID, env.tutor.ID, nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidStatus))
}

func TestMarkOverdueIsIdempotent(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	invoice := env.createDraft(t)
	_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
	require.NoError(t, err)

	// Move past the due date.
	env.advance(9 * 24 * time.Hour)

	result, err := env.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Transitioned)
	require.Equal(t, 0, result.Failed)

	reloaded, err := env.repo.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusOverdue, reloaded.Status)

	rows := env.history(t, invoice.ID)
	require.Len(t, rows, 3)
	require.Equal(t, enums.InvoiceStatusOverdue, rows[2].NewStatus)
	require.Equal(t, "due date passed", *rows[2].Reason)
	require.Equal(t, SystemActorID, rows[2].ChangedBy)

	// Second run transitions nothing and appends nothing.
	result, err = env.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.Transitioned)
	rows = env.history(t, invoice.ID)
	require.Len(t, rows, 3)

	// Overdue invoices still accept payment.
	payment := env.newSucceededPayment(t, "5000.00", *env.now)
	paid, err := env.svc.ProcessPayment(ctx, invoice.ID, payment)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPaid, paid.Status)
}

type flakyTxRunner struct {
	inner  txRunner
	calls  int
	failOn int
}

func (r *flakyTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	if r.calls == r.failOn {
		return errors.New("tx unavailable")
	}
	return r.inner.WithTx(ctx, fn)
}

func TestMarkOverdueAggregatesPartialFailures(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	for _, description := range []string{"April sessions", "May sessions"} {
		invoice := env.createDraftFor(t, env.tutor.ID, env.student.ID, description)
		_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
		require.NoError(t, err)
	}
	env.advance(9 * 24 * time.Hour)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	fanout, err := NewFanout(env.notifier, env.broadcaster, env.messenger, env.invalidator, logg)
	require.NoError(t, err)
	directory, err := students.NewService(students.NewRepository(env.db))
	require.NoError(t, err)

	// First sweep transaction fails, second goes through.
	sweep, err := NewService(ServiceParams{
		Repo:      env.repo,
		Directory: directory,
		Tx:        &flakyTxRunner{inner: gormTxRunner{db: env.db}, failOn: 1},
		Fanout:    fanout,
		Logger:    logg,
		Now:       func() time.Time { return *env.now },
	})
	require.NoError(t, err)

	result, err := sweep.MarkOverdue(ctx)
	require.Error(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Transitioned)
	require.Len(t, multierr.Errors(err), 1)
	require.Contains(t, err.Error(), "tx unavailable")
}

func TestGetDetailPermissions(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()
	invoice := env.createDraft(t)

	detail, err := env.svc.GetDetail(ctx, invoice.ID, Actor{UserID: env.tutor.ID, Role: enums.UserRoleTutor})
	require.NoError(t, err)
	require.Len(t, detail.History, 1)

	_, err = env.svc.GetDetail(ctx, invoice.ID, Actor{UserID: env.parent.ID, Role: enums.UserRoleParent})
	require.NoError(t, err)

	// Students are categorically denied, even the invoice's own student.
	_, err = env.svc.GetDetail(ctx, invoice.ID, Actor{UserID: env.student.ID, Role: enums.UserRoleStudent})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePermissionDenied))

	otherTutor := env.newUser(t, enums.UserRoleTutor)
	_, err = env.svc.GetDetail(ctx, invoice.ID, Actor{UserID: otherTutor.ID, Role: enums.UserRoleTutor})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePermissionDenied))

	_, err = env.svc.GetDetail(ctx, uuid.New(), Actor{UserID: env.tutor.ID, Role: enums.UserRoleTutor})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestBackdatedCreateForcesCreatedAt(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	sentAt := env.now.Add(-30 * 24 * time.Hour)
	viewedAt := sentAt.Add(time.Hour)
	invoice, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		TutorID:     env.tutor.ID,
		StudentID:   env.student.ID,
		Amount:      decimal.RequireFromString("120.00"),
		Description: "Imported March invoice",
		DueDate:     env.now.Add(24 * time.Hour),
		SentAt:      &sentAt,
		ViewedAt:    &viewedAt,
	})
	require.NoError(t, err)

	// created_at is pulled back to the earliest preset timestamp.
	require.True(t, invoice.CreatedAt.Equal(sentAt))
}

func TestBackdatedCreateAcceptsViewedWithoutSent(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	viewedAt := env.now.Add(-10 * 24 * time.Hour)
	invoice, err := env.svc.CreateInvoice(ctx, CreateInvoiceInput{
		TutorID:     env.tutor.ID,
		StudentID:   env.student.ID,
		Amount:      decimal.RequireFromString("90.00"),
		Description: "Imported viewed-only invoice",
		DueDate:     env.now.Add(24 * time.Hour),
		ViewedAt:    &viewedAt,
	})
	require.NoError(t, err)
	require.Nil(t, invoice.SentAt)
	require.NotNil(t, invoice.ViewedAt)
	require.True(t, invoice.CreatedAt.Equal(viewedAt))
}

func TestFanoutFailuresDoNotPropagate(t *testing.T) {
	env := newInvoiceTestEnv(t)
	env.notifier.err = contextCancelled{}

	invoice := env.createDraft(t)
	sent, err := env.svc.SendInvoice(context.Background(), invoice.ID, env.tutor.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusSent, sent.Status)
}

func (e *invoiceTestEnv) createDraftFor(t *testing.T, tutorID, studentID uuid.UUID, description string) *models.Invoice {
	t.Helper()
	invoice, err := e.svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		TutorID:     tutorID,
		StudentID:   studentID,
		Amount:      decimal.RequireFromString("5000.00"),
		Description: description,
		DueDate:     e.now.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return invoice
}

func TestListInvoicesScopesByRole(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()

	first := env.createDraftFor(t, env.tutor.ID, env.student.ID, "April sessions")
	env.advance(time.Minute)
	second := env.createDraftFor(t, env.tutor.ID, env.student.ID, "May sessions")
	env.advance(time.Minute)

	otherTutor := env.newUser(t, enums.UserRoleTutor)
	otherStudent := env.newUser(t, enums.UserRoleStudent)
	otherParent := env.newUser(t, enums.UserRoleParent)
	profile := &models.StudentProfile{
		ID:        uuid.New(),
		StudentID: otherStudent.ID,
		ParentID:  &otherParent.ID,
		TutorID:   &otherTutor.ID,
	}
	require.NoError(t, env.db.Create(profile).Error)
	env.createDraftFor(t, otherTutor.ID, otherStudent.ID, "June sessions")

	list, err := env.svc.ListInvoices(ctx, Actor{UserID: env.tutor.ID, Role: enums.UserRoleTutor}, ListInvoicesParams{})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	// Newest first.
	require.Equal(t, second.ID, list.Items[0].ID)
	require.Equal(t, first.ID, list.Items[1].ID)
	require.Empty(t, list.Cursor)

	parentList, err := env.svc.ListInvoices(ctx, Actor{UserID: env.parent.ID, Role: enums.UserRoleParent}, ListInvoicesParams{})
	require.NoError(t, err)
	require.Len(t, parentList.Items, 2)

	adminList, err := env.svc.ListInvoices(ctx, Actor{UserID: uuid.New(), Role: enums.UserRoleAdmin}, ListInvoicesParams{})
	require.NoError(t, err)
	require.Len(t, adminList.Items, 3)

	_, err = env.svc.ListInvoices(ctx, Actor{UserID: env.student.ID, Role: enums.UserRoleStudent}, ListInvoicesParams{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePermissionDenied))
}

func TestListInvoicesStatusFilterAndPagination(t *testing.T) {
	env := newInvoiceTestEnv(t)
	ctx := context.Background()
	actor := Actor{UserID: env.tutor.ID, Role: enums.UserRoleTutor}

	var sentIDs []uuid.UUID
	for _, description := range []string{"Week one", "Week two", "Week three"} {
		invoice := env.createDraftFor(t, env.tutor.ID, env.student.ID, description)
		_, err := env.svc.SendInvoice(ctx, invoice.ID, env.tutor.ID)
		require.NoError(t, err)
		sentIDs = append(sentIDs, invoice.ID)
		env.advance(time.Minute)
	}
	env.createDraftFor(t, env.tutor.ID, env.student.ID, "Unsent draft")

	sentStatus := enums.InvoiceStatusSent
	page, err := env.svc.ListInvoices(ctx, actor, ListInvoicesParams{Status: &sentStatus, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)
	require.Equal(t, sentIDs[2], page.Items[0].ID)
	require.Equal(t, sentIDs[1], page.Items[1].ID)

	rest, err := env.svc.ListInvoices(ctx, actor, ListInvoicesParams{Status: &sentStatus, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Equal(t, sentIDs[0], rest.Items[0].ID)
	require.Empty(t, rest.Cursor)

	badStatus := enums.InvoiceStatus("archived")
	_, err = env.svc.ListInvoices(ctx, actor, ListInvoicesParams{Status: &badStatus})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = env.svc.ListInvoices(ctx, actor, ListInvoicesParams{Cursor: "not-a-cursor"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

type contextCancelled struct{}

func (contextCancelled) Error() string { return "notifier unavailable" }
