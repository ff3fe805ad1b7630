package e2e

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/internal/processor"
	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/internal/repository"
	"github.com/nimasrn/time-capsule/internal/scheduler"
	"github.com/nimasrn/time-capsule/internal/services"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/pg"
	"github.com/nimasrn/time-capsule/pkg/redis"
	"github.com/nimasrn/time-capsule/pkg/storage"
	"github.com/nimasrn/time-capsule/test/fixtures"
	"github.com/nimasrn/time-capsule/test/helpers"
)

const frontend = "https://capsules.example.com"

type outbox struct {
	mu     sync.Mutex
	emails []mail.Email
}

func (o *outbox) Send(_ context.Context, email mail.Email) (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, email)
	return true, mail.SuccessMessage
}

func (o *outbox) sent() []mail.Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mail.Email(nil), o.emails...)
}

type TestEnvironment struct {
	DB            *pg.DB
	Redis         *miniredis.Miniredis
	RedisAdapter  redis.RedisAdapter
	Queue         *queue.Queue
	Blobs         *storage.MemoryStorage
	Outbox        *outbox
	Capsules      *repository.CapsuleRepository
	Recipients    *repository.RecipientRepository
	Notifications *repository.NotificationRepository
	Logs          *repository.DeliveryLogRepository
	CapsuleSvc    *services.CapsuleService
	PublicSvc     *services.PublicCapsuleService
	Processor     *processor.ProcessorService
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := helpers.SetupTestDB(t)
	mr, adapter := helpers.SetupTestRedis(t)
	log := logger.Nop()

	queueConfig := queue.QueueConfig{
		Name:              "test:deliveries",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
		RetryDelay:        50 * time.Millisecond,
	}
	q, err := queue.NewQueue(adapter, queueConfig)
	require.NoError(t, err)

	env := &TestEnvironment{
		DB:            db,
		Redis:         mr,
		RedisAdapter:  adapter,
		Queue:         q,
		Blobs:         storage.NewMemoryStorage("https://cdn.example.com"),
		Outbox:        &outbox{},
		Capsules:      repository.NewCapsuleRepository(db),
		Recipients:    repository.NewRecipientRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Logs:          repository.NewDeliveryLogRepository(db),
	}

	sched := scheduler.New(q, scheduler.Config{Location: time.UTC, GraceDelay: 50 * time.Millisecond}, log)
	env.CapsuleSvc = services.NewCapsuleService(services.CapsuleDeps{
		Capsules:      env.Capsules,
		Recipients:    env.Recipients,
		Notifications: env.Notifications,
		Tx:            db,
		Scheduler:     sched,
		Blobs:         env.Blobs,
	}, log)
	env.PublicSvc = services.NewPublicCapsuleService(services.GateDeps{
		Recipients:    env.Recipients,
		Capsules:      env.Capsules,
		Principals:    repository.NewPrincipalRepository(db),
		Notifications: env.Notifications,
	}, services.GateConfig{Location: time.UTC}, log)

	service, err := processor.NewProcessorService(adapter, processor.ServiceConfig{
		Queue:     queueConfig,
		Consumers: 2,
		Workers:   2,
	}, log)
	require.NoError(t, err)
	service.RegisterProcessor(processor.NewCapsuleDeliveryProcessor(processor.DeliveryDeps{
		Capsules:      env.Capsules,
		Recipients:    env.Recipients,
		Principals:    repository.NewPrincipalRepository(db),
		Logs:          env.Logs,
		Notifications: env.Notifications,
		Tx:            db,
		Sender:        env.Outbox,
		Lock:          processor.NewDeliveryLock(adapter, processor.DefaultLockConfig()),
	}, processor.DeliveryConfig{
		FrontendBaseURL: frontend,
		From:            "no-reply@example.com",
		FromName:        "Time Capsule",
		Location:        time.UTC,
	}, log))
	env.Processor = service

	return env
}

func (env *TestEnvironment) Start(t *testing.T) {
	require.NoError(t, env.Processor.Start())
	t.Cleanup(env.Processor.Stop)
}

// tokenFromLink pulls the access token out of the view link in the body.
func tokenFromLink(t *testing.T, body string) string {
	t.Helper()
	prefix := frontend + "/view-capsule/"
	i := strings.Index(body, prefix)
	require.GreaterOrEqual(t, i, 0, "no view link in %q", body)
	rest := body[i+len(prefix):]
	end := strings.Index(rest, "/")
	require.Greater(t, end, 0)
	return rest[:end]
}

func TestE2E_CapsuleDeliveredAndOpened(t *testing.T) {
	env := setupE2EEnvironment(t)
	ctx := context.Background()
	owner := helpers.CreateTestUser(t, env.DB, "ada@example.com", "Ada")

	req := fixtures.WithFile(fixtures.CapsuleDueNow(owner.ID, "bob@example.com"), "photo.png", "png")
	capsule, err := env.CapsuleSvc.Create(ctx, req)
	require.NoError(t, err)
	require.Len(t, capsule.Contents, 2)
	assert.Equal(t, 1, env.Blobs.Len())

	env.Start(t)

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return len(env.Outbox.sent()) == 1
	}, "delivery email was not sent")

	email := env.Outbox.sent()[0]
	assert.Equal(t, "bob@example.com", email.To)
	assert.Equal(t, mail.CapsuleLinkSubject("Ada"), email.Subject)
	token := tokenFromLink(t, email.Plain)

	helpers.AssertEventually(t, 2*time.Second, func() bool {
		c, err := env.Capsules.FindByID(ctx, capsule.ID)
		return err == nil && c.IsDelivered && c.IsUnlocked
	}, "capsule was not marked delivered")

	view, err := env.PublicSvc.Open(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, capsule.Title, view.Title)
	assert.Equal(t, "Ada", view.OwnerName)
	require.Len(t, view.Contents, 2)
	assert.Equal(t, "Hello from the past.", view.Contents[0].Text)
	assert.NotEmpty(t, view.Contents[1].FileURL)

	// a second visit reads the same view without a second notification
	_, err = env.PublicSvc.Open(ctx, token)
	require.NoError(t, err)

	recipients, err := env.Recipients.ListByCapsule(ctx, capsule.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, model.RecipientOpened, recipients[0].Status)

	logs, err := env.Logs.ListByCapsule(ctx, capsule.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DeliveryLogSuccess, logs[0].Status)

	// created, delivered, opened
	unread, err := env.Notifications.CountUnread(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)
}

func TestE2E_FutureCapsuleStaysLocked(t *testing.T) {
	env := setupE2EEnvironment(t)
	ctx := context.Background()
	owner := helpers.CreateTestUser(t, env.DB, "ada@example.com", "Ada")

	capsule, err := env.CapsuleSvc.Create(ctx, fixtures.CapsuleDueNextYear(owner.ID, "bob@example.com"))
	require.NoError(t, err)

	env.Start(t)

	stats, err := env.Queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DelayedMessages)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, env.Outbox.sent())

	recipients, err := env.Recipients.ListByCapsule(ctx, capsule.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, model.RecipientPending, recipients[0].Status)
}

func TestE2E_DeleteCancelsDelivery(t *testing.T) {
	env := setupE2EEnvironment(t)
	ctx := context.Background()
	owner := helpers.CreateTestUser(t, env.DB, "ada@example.com", "Ada")

	capsule, err := env.CapsuleSvc.Create(ctx, fixtures.WithFile(
		fixtures.CapsuleDueNextYear(owner.ID, "bob@example.com"), "notes.pdf", "pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Blobs.Len())

	_, err = env.CapsuleSvc.Delete(ctx, owner.ID, capsule.ID)
	require.NoError(t, err)

	stats, err := env.Queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.DelayedMessages)
	assert.Equal(t, 0, env.Blobs.Len())

	_, err = env.CapsuleSvc.Get(ctx, owner.ID, capsule.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestE2E_DeletedBeforeDeliveryIsDropped(t *testing.T) {
	env := setupE2EEnvironment(t)
	ctx := context.Background()
	owner := helpers.CreateTestUser(t, env.DB, "ada@example.com", "Ada")

	capsule, err := env.CapsuleSvc.Create(ctx, fixtures.CapsuleDueNow(owner.ID, "bob@example.com"))
	require.NoError(t, err)

	// rows go away behind the scheduler's back; the job must not retry forever
	_, err = env.Capsules.Delete(ctx, capsule.ID)
	require.NoError(t, err)

	env.Start(t)

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return env.Processor.Metrics().Snapshot().Dropped == 1
	}, "job for a deleted capsule was not dropped")
	assert.Empty(t, env.Outbox.sent())

	dead, err := env.Queue.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}
