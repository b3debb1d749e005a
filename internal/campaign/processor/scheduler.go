package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

var ErrCampaignAlreadyRunning = errors.New("campaign already has an active runner")

// scheduler owns the runner table and the deferred triggers for scheduled
// campaigns. All mutation happens through its methods under one mutex.
type scheduler struct {
	deps runnerDeps

	mu      sync.Mutex
	runners map[uuid.UUID]*runner
	timers  map[uuid.UUID]*time.Timer
}

func newScheduler(deps runnerDeps) *scheduler {
	return &scheduler{
		deps:    deps,
		runners: make(map[uuid.UUID]*runner),
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// schedule arms a deferred trigger for the campaign's fire time, or starts a
// runner right away when the time is absent or already past.
func (s *scheduler) schedule(ctx context.Context, campaign store.Campaign) error {
	if campaign.ScheduledAt == nil || !campaign.ScheduledAt.After(time.Now()) {
		return s.fire(ctx, campaign.ID)
	}

	delay := time.Until(*campaign.ScheduledAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[campaign.ID]; ok {
		existing.Stop()
	}
	campaignID := campaign.ID
	s.timers[campaignID] = time.AfterFunc(delay, func() {
		fireCtx := observability.WithFields(context.Background(),
			observability.Field{Key: "campaign_id", Value: campaignID.String()},
		)
		if err := s.fire(fireCtx, campaignID); err != nil {
			s.deps.logger.Error(fireCtx, "scheduled campaign failed to start", err)
		}
	})
	return nil
}

// fire transitions a due campaign to running and spawns its runner. The
// status is re-read first so a campaign paused or deleted before its trigger
// never starts.
func (s *scheduler) fire(ctx context.Context, campaignID uuid.UUID) error {
	s.cancelTimer(campaignID)

	campaign, err := s.deps.store.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != store.CampaignStatusScheduled {
		s.deps.logger.Info(ctx, "skipping trigger, campaign no longer scheduled")
		return nil
	}

	campaign, err = s.deps.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignStatusRunning)
	if err != nil {
		return err
	}
	return s.startRunner(ctx, campaign)
}

// startRunner spawns the dispatch loop for a campaign already in the running
// state. At most one runner per campaign id.
func (s *scheduler) startRunner(ctx context.Context, campaign store.Campaign) error {
	s.mu.Lock()
	if _, ok := s.runners[campaign.ID]; ok {
		s.mu.Unlock()
		return ErrCampaignAlreadyRunning
	}
	r := newRunner(campaign, s.deps)
	s.runners[campaign.ID] = r
	s.mu.Unlock()

	go func() {
		r.run(context.WithoutCancel(ctx))
		s.mu.Lock()
		delete(s.runners, campaign.ID)
		s.mu.Unlock()
	}()
	return nil
}

// signalStop asks the campaign's runner, if any, to exit before its next
// send.
func (s *scheduler) signalStop(campaignID uuid.UUID) {
	s.mu.Lock()
	r, ok := s.runners[campaignID]
	s.mu.Unlock()
	if ok {
		r.signalStop()
	}
}

func (s *scheduler) cancelTimer(campaignID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[campaignID]; ok {
		t.Stop()
		delete(s.timers, campaignID)
	}
}

func (s *scheduler) hasRunner(campaignID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[campaignID]
	return ok
}

// shutdown cancels every timer and signals every runner, then waits for the
// runners to drain, bounded by the given timeout.
func (s *scheduler) shutdown(timeout time.Duration) {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	waiting := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		r.signalStop()
		waiting = append(waiting, r)
	}
	s.mu.Unlock()

	deadline := time.After(timeout)
	for _, r := range waiting {
		select {
		case <-r.done:
		case <-deadline:
			return
		}
	}
}
