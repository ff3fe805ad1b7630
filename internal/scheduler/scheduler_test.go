package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

type submission struct {
	jobID    string
	data     []byte
	metadata map[string]string
	at       time.Time
	delay    time.Duration
}

type fakeSubmitter struct {
	mu        sync.Mutex
	at        []submission
	after     []submission
	cancelled []string
	err       error
}

func (f *fakeSubmitter) PublishAt(_ context.Context, jobID string, data []byte, metadata map[string]string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.at = append(f.at, submission{jobID: jobID, data: data, metadata: metadata, at: at})
	return nil
}

func (f *fakeSubmitter) PublishAfter(_ context.Context, jobID string, data []byte, metadata map[string]string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.after = append(f.after, submission{jobID: jobID, data: data, metadata: metadata, delay: delay})
	return nil
}

func (f *fakeSubmitter) Cancel(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func capsuleAt(date, clock string) (*model.Capsule, *model.CapsuleRecipient) {
	return &model.Capsule{ID: 7, DeliveryDate: date, DeliveryTime: clock},
		&model.CapsuleRecipient{ID: 9, CapsuleID: 7, Email: "bob@example.com"}
}

func TestComputeETA(t *testing.T) {
	eta, err := ComputeETA("2030-06-01", "14:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 6, 1, 14, 30, 0, 0, time.UTC), eta)

	eta, err = ComputeETA("2030-06-01", "14:30:15", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 15, eta.Second())

	eta, err = ComputeETA("2030-06-01", "", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC), eta)
}

func TestComputeETA_Zone(t *testing.T) {
	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	eta, err := ComputeETA("2030-01-15", "12:00", tehran)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, eta.Location())
	assert.Equal(t, time.Date(2030, 1, 15, 8, 30, 0, 0, time.UTC), eta)
}

func TestComputeETA_Invalid(t *testing.T) {
	cases := [][2]string{
		{"2030-02-30", "10:00"},
		{"not-a-date", "10:00"},
		{"2030-01-01", "25:00"},
		{"2030-01-01", "noon"},
	}
	for _, c := range cases {
		_, err := ComputeETA(c[0], c[1], time.UTC)
		assert.ErrorIs(t, err, ErrInvalidSchedule, c)
	}
}

func TestComputeETA_DaylightSavingGap(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	_, err = ComputeETA("2030-03-10", "02:30", ny)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	eta, err := ComputeETA("2030-03-10", "03:30", ny)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 3, 10, 7, 30, 0, 0, time.UTC), eta)
}

func TestSchedule_FutureUsesExactInstant(t *testing.T) {
	sub := &fakeSubmitter{}
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(sub, Config{Now: fixedClock(now)}, logger.Nop())

	c, r := capsuleAt("2030-06-01", "14:30")
	require.NoError(t, s.Schedule(context.Background(), c, r))

	require.Len(t, sub.at, 1)
	assert.Empty(t, sub.after)
	assert.Equal(t, time.Date(2030, 6, 1, 14, 30, 0, 0, time.UTC), sub.at[0].at)
	assert.Equal(t, "deliver_capsule_email:7:9", sub.at[0].jobID)
	assert.Equal(t, model.DeliveryJobName, sub.at[0].metadata["type"])

	var job model.DeliveryJob
	require.NoError(t, json.Unmarshal(sub.at[0].data, &job))
	assert.Equal(t, model.DeliveryJob{CapsuleID: 7, RecipientID: 9}, job)
}

func TestSchedule_PastUsesGraceDelay(t *testing.T) {
	sub := &fakeSubmitter{}
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := New(sub, Config{Now: fixedClock(now)}, logger.Nop())

	c, r := capsuleAt("2024-01-01", "09:00")
	require.NoError(t, s.Schedule(context.Background(), c, r))

	assert.Empty(t, sub.at)
	require.Len(t, sub.after, 1)
	assert.Equal(t, 10*time.Second, sub.after[0].delay)
}

func TestSchedule_NowIsNotFuture(t *testing.T) {
	sub := &fakeSubmitter{}
	now := time.Date(2030, 6, 1, 14, 30, 0, 0, time.UTC)
	s := New(sub, Config{Now: fixedClock(now), GraceDelay: 3 * time.Second}, logger.Nop())

	c, r := capsuleAt("2030-06-01", "14:30")
	require.NoError(t, s.Schedule(context.Background(), c, r))

	require.Len(t, sub.after, 1)
	assert.Equal(t, 3*time.Second, sub.after[0].delay)
}

func TestSchedule_InvalidDateIsSkipped(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub, Config{}, logger.Nop())

	c, r := capsuleAt("2030-02-30", "10:00")
	assert.NoError(t, s.Schedule(context.Background(), c, r))
	assert.Empty(t, sub.at)
	assert.Empty(t, sub.after)
}

func TestSchedule_SubmitErrorIsReturned(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("redis down")}
	s := New(sub, Config{}, logger.Nop())

	c, r := capsuleAt("2099-01-01", "00:00")
	err := s.Schedule(context.Background(), c, r)
	assert.ErrorContains(t, err, "redis down")
}

func TestCancel(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub, Config{}, logger.Nop())

	require.NoError(t, s.Cancel(context.Background(), 7, 9, 10))
	assert.Equal(t, []string{"deliver_capsule_email:7:9", "deliver_capsule_email:7:10"}, sub.cancelled)
}
