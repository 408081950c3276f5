package session

import (
	"context"
	"fmt"

	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

// ReminderText is sent once to users whose session has been open for ReminderAfter.
const ReminderText = "⏰ *Reminder*\n\n" +
	"Did you go shopping? Send your receipt photo to check my prediction accuracy.\n\n" +
	"Not shopping today? Reply 'No' to stop reminders."

// SweepResult summarizes one reminder sweep.
type SweepResult struct {
	Expired  int
	Reminded int
	Failed   int
}

// Sweep expires sessions whose grace window has passed and sends a reminder to
// every waiting session older than ReminderAfter that has not had one. A failed
// send leaves reminder_sent_at unset so the next sweep retries it.
func (m *Manager) Sweep(ctx context.Context, messenger service.Messenger) (SweepResult, error) {
	var result SweepResult
	now := m.now()

	expired, err := m.store.ExpireLapsedSessions(ctx, "", now.Add(-m.config.Grace))
	if err != nil {
		return result, fmt.Errorf("failed to expire sessions: %w", err)
	}
	result.Expired = expired
	for i := 0; i < expired; i++ {
		m.metrics.SessionClosed(string(model.SessionExpired))
	}

	due, err := m.store.SessionsDueReminder(ctx, now.Add(-m.config.ReminderAfter), now)
	if err != nil {
		return result, fmt.Errorf("failed to find sessions due a reminder: %w", err)
	}

	for _, s := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := messenger.Send(ctx, s.UserID, ReminderText); err != nil {
			m.logger.Warn("failed to send session reminder", "session_id", s.ID, "user", s.UserID, "error", err)
			result.Failed++
			continue
		}
		result.Reminded++
		m.metrics.ReminderSent()

		if err := m.store.MarkReminderSent(ctx, s.ID, now); err != nil {
			m.logger.Warn("reminder sent but not recorded", "session_id", s.ID, "error", err)
		}
	}

	if result.Expired > 0 || result.Reminded > 0 || result.Failed > 0 {
		m.logger.Info("session sweep complete",
			"expired", result.Expired,
			"reminded", result.Reminded,
			"failed", result.Failed)
	}
	return result, nil
}
