package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/render"
	"github.com/RendaAI-dev/NewChats/internal/store"
)

// stopPollInterval bounds how long a pause request can go unobserved while
// the runner waits out a pacing delay.
const stopPollInterval = time.Second

// runner executes one campaign's dispatch loop. Exactly one runner exists per
// campaign id at a time; the scheduler enforces that.
type runner struct {
	campaign store.Campaign
	deps     runnerDeps
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// runnerDeps bundles the collaborators a dispatch loop needs.
type runnerDeps struct {
	store      CampaignStore
	checker    ConnectionChecker
	dispatcher Dispatcher
	augmenter  Augmenter
	missedCall MissedCallSignaler
	sink       events.Sink
	logger     *observability.Logger
}

func newRunner(campaign store.Campaign, deps runnerDeps) *runner {
	return &runner{
		campaign: campaign,
		deps:     deps,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// signalStop asks the runner to exit before its next send. Idempotent.
func (r *runner) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *runner) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// run drives the loop to a terminal state. A clean early exit (pause or
// external cancellation) leaves the stored status untouched; only
// runner-level faults mark the campaign failed.
func (r *runner) run(ctx context.Context) {
	defer close(r.done)

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "campaign_id", Value: r.campaign.ID.String()},
	)

	if r.campaign.IntervalMin < 0 || r.campaign.IntervalMin > r.campaign.IntervalMax {
		r.fail(ctx, fmt.Errorf("invalid pacing bounds: min %d, max %d", r.campaign.IntervalMin, r.campaign.IntervalMax))
		return
	}

	contacts, err := r.deps.store.GetEligibleContacts(ctx, r.campaign.TargetType, r.campaign.TargetIDs)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	vars := r.campaign.Variables.StringMap()
	sent, failed := r.campaign.SentCount, r.campaign.FailedCount

	for i, contact := range contacts {
		status, err := r.deps.store.GetCampaignStatus(ctx, r.campaign.ID)
		if err != nil {
			r.fail(ctx, err)
			return
		}
		if status != store.CampaignStatusRunning {
			r.deps.logger.Info(ctx, fmt.Sprintf("campaign no longer running (status %s), stopping", status))
			return
		}
		if r.stopped() {
			r.deps.logger.Info(ctx, "stop requested, exiting cleanly")
			return
		}

		// Resumed runs skip contacts that already received this campaign.
		// Failed or interrupted attempts are retried in place so the pair
		// keeps a single record.
		prior, err := r.deps.store.GetSendAttempt(ctx, r.campaign.ID, contact.ID)
		hasPrior := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.fail(ctx, err)
			return
		}
		if hasPrior && prior.Status == store.SentMessageStatusSent {
			continue
		}

		content := render.Render(r.campaign.MessageTemplate, contact, vars)
		if r.campaign.UseAIGeneration && r.deps.augmenter != nil {
			augmented, err := r.deps.augmenter.Augment(ctx, content)
			if err != nil {
				r.deps.logger.InfoWithError(ctx, "augmentation failed, using rendered text", err)
			} else {
				content = augmented
			}
		}

		var msg store.SentMessage
		if hasPrior {
			msg, err = r.deps.store.ResetSendAttempt(ctx, prior.ID, r.campaign.ConnectionID, content)
		} else {
			msg, err = r.deps.store.RecordSendAttempt(ctx, r.campaign.ID, contact.ID, r.campaign.ConnectionID, content)
		}
		if err != nil {
			r.fail(ctx, err)
			return
		}

		// A retried failure gives back the counter increment its first
		// attempt took, so the new outcome is counted exactly once.
		if hasPrior && prior.Status == store.SentMessageStatusFailed {
			if err := r.deps.store.IncrementCampaignCounters(ctx, r.campaign.ID, 0, -1); err != nil {
				r.deps.logger.Error(ctx, "failed to reverse failed counter before retry", err)
			} else {
				failed--
			}
		}

		if r.sendOne(ctx, contact, msg) {
			sent++
		} else {
			failed++
		}
		r.publishProgress(ctx, sent, failed)

		if i < len(contacts)-1 {
			if !r.sleepBetweenSends(ctx) {
				r.deps.logger.Info(ctx, "pacing sleep interrupted, exiting cleanly")
				return
			}
		}
	}

	if _, err := r.deps.store.UpdateCampaignStatus(ctx, r.campaign.ID, store.CampaignStatusCompleted); err != nil {
		r.deps.logger.Error(ctx, "failed to mark campaign completed", err)
		return
	}
	r.deps.logger.Info(ctx, "campaign completed")
	r.deps.sink.Publish(ctx, events.Event{
		Type:   events.EventCampaignCompleted,
		UserID: r.campaign.UserID,
		Payload: events.CampaignProgressPayload{
			CampaignID:    r.campaign.ID,
			Status:        store.CampaignStatusCompleted,
			SentCount:     sent,
			FailedCount:   failed,
			TotalContacts: r.campaign.TotalContacts,
		},
	})
}

// sendOne attempts delivery for one contact and finalizes its attempt record.
// Returns true on success. Per-contact failures never abort the campaign.
func (r *runner) sendOne(ctx context.Context, contact store.Contact, msg store.SentMessage) bool {
	if !r.deps.checker.IsUsable(r.campaign.ConnectionID) {
		reason := "connection unavailable"
		r.finalize(ctx, msg, store.SentMessageStatusFailed, &reason)
		return false
	}

	if err := r.deps.dispatcher.SendMessage(ctx, r.campaign.ConnectionID, contact.PhoneNumber, msg.Content); err != nil {
		r.deps.logger.InfoWithError(ctx, "send failed", err)
		detail := err.Error()
		r.finalize(ctx, msg, store.SentMessageStatusFailed, &detail)
		return false
	}

	r.finalize(ctx, msg, store.SentMessageStatusSent, nil)

	if r.campaign.UseMissedCall && r.deps.missedCall != nil {
		if err := r.deps.missedCall.Signal(ctx, contact.PhoneNumber); err != nil {
			r.deps.logger.InfoWithError(ctx, "missed call signal failed", err)
		}
	}
	return true
}

func (r *runner) finalize(ctx context.Context, msg store.SentMessage, status string, detail *string) {
	if err := r.deps.store.UpdateSendResult(ctx, msg.ID, status, detail); err != nil {
		r.deps.logger.Error(ctx, "failed to update send result", err)
	}
	sentDelta, failedDelta := 0, 1
	if status == store.SentMessageStatusSent {
		sentDelta, failedDelta = 1, 0
	}
	if err := r.deps.store.IncrementCampaignCounters(ctx, r.campaign.ID, sentDelta, failedDelta); err != nil {
		r.deps.logger.Error(ctx, "failed to increment campaign counters", err)
	}
}

func (r *runner) publishProgress(ctx context.Context, sent, failed int) {
	r.deps.sink.Publish(ctx, events.Event{
		Type:   events.EventCampaignProgress,
		UserID: r.campaign.UserID,
		Payload: events.CampaignProgressPayload{
			CampaignID:    r.campaign.ID,
			Status:        store.CampaignStatusRunning,
			SentCount:     sent,
			FailedCount:   failed,
			TotalContacts: r.campaign.TotalContacts,
		},
	})
}

// sleepBetweenSends waits a duration drawn uniformly from the campaign's
// pacing bounds, waking at most stopPollInterval after a stop request.
// Returns false when interrupted.
func (r *runner) sleepBetweenSends(ctx context.Context) bool {
	min := time.Duration(r.campaign.IntervalMin) * time.Second
	max := time.Duration(r.campaign.IntervalMax) * time.Second
	delay := min
	if max > min {
		delay += time.Duration(rand.Int63n(int64(max - min + 1)))
	}

	deadline := time.Now().Add(delay)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > stopPollInterval {
			remaining = stopPollInterval
		}
		select {
		case <-time.After(remaining):
		case <-r.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (r *runner) fail(ctx context.Context, cause error) {
	r.deps.logger.Error(ctx, "campaign runner fault", cause)
	if _, err := r.deps.store.UpdateCampaignStatus(ctx, r.campaign.ID, store.CampaignStatusFailed); err != nil {
		r.deps.logger.Error(ctx, "failed to mark campaign failed", err)
	}
	r.deps.sink.Publish(ctx, events.Event{
		Type:   events.EventCampaignFailed,
		UserID: r.campaign.UserID,
		Payload: events.CampaignProgressPayload{
			CampaignID:    r.campaign.ID,
			Status:        store.CampaignStatusFailed,
			TotalContacts: r.campaign.TotalContacts,
		},
	})
}
