package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// SchedulePublisher turns due scheduled messages into pending outbound
// messages and queues a send job for each.
type SchedulePublisher struct {
	repo       ports.Repository
	dispatcher *Dispatcher
	jobs       ports.JobPublisher
	now        func() time.Time
	log        *slog.Logger
}

func NewSchedulePublisher(repo ports.Repository, dispatcher *Dispatcher, jobs ports.JobPublisher, log *slog.Logger) *SchedulePublisher {
	return &SchedulePublisher{repo: repo, dispatcher: dispatcher, jobs: jobs, now: time.Now, log: log}
}

// PublishDue hands at most limit due rows to the send queue and reports
// how many were queued. Each row is claimed before anything is created, so
// concurrent publishers never queue one row twice.
func (p *SchedulePublisher) PublishDue(ctx context.Context, limit int) (int, error) {
	due, err := p.repo.ListDueScheduledMessages(ctx, p.now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, sm := range due {
		err := p.repo.UpdateScheduledStatus(ctx, sm.ID, domain.ScheduledPending, domain.ScheduledSent)
		if errors.Is(err, domain.ErrInvalidStatus) {
			continue
		}
		if err != nil {
			return queued, err
		}

		msg, err := p.dispatcher.CreateOutbound(ctx, OutboundRequest{
			ContactID: sm.ContactID,
			Channel:   string(sm.Channel),
			Subject:   sm.Subject,
			Body:      sm.Body,
			MediaURLs: sm.MediaURLs,
		})
		if err != nil {
			p.log.Warn("scheduled message rejected", "scheduled_id", sm.ID, "err", err)
			if err := p.repo.UpdateScheduledStatus(ctx, sm.ID, domain.ScheduledSent, domain.ScheduledFailed); err != nil {
				p.log.Error("mark scheduled message failed", "scheduled_id", sm.ID, "err", err)
			}
			continue
		}

		job := ports.SendJob{MessageID: msg.ID, Channel: msg.Channel, ContactID: msg.ContactID}
		if err := p.jobs.PublishSendJob(ctx, job); err != nil {
			// The message stays PENDING and can be sent through the API.
			return queued, fmt.Errorf("queue scheduled message %s as %s: %w", sm.ID, msg.ID, err)
		}
		queued++
		p.log.Info("scheduled message queued", "scheduled_id", sm.ID, "msg_id", msg.ID)
	}
	return queued, nil
}
