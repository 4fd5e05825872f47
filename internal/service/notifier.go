package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Kerhoff/wishsync/internal/auth"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/notify"
	"github.com/Kerhoff/wishsync/internal/store"
)

const eventQueueSize = 256

// StartNotifier delivers queued notifications until the context is
// cancelled, so it should be launched in a separate goroutine.
func (s *Service) StartNotifier(ctx context.Context) {
	s.logger.Info("Notifier started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Notifier stopped")
			return
		case ev := <-s.events:
			if err := s.Notifier.Notify(ctx, ev); err != nil {
				s.logger.WithError(err).WithField("kind", ev.Kind).Warn("Notification delivery incomplete")
			}
		}
	}
}

// enqueue never blocks the store or channel goroutine that raised the event
func (s *Service) enqueue(ev notify.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.WithField("kind", ev.Kind).Warn("Notification queue full, dropping event")
	}
}

func (s *Service) listChanged(ch store.Change) {
	switch {
	case ch.Op == store.OpDelete:
		s.enqueue(notify.Event{Kind: notify.KindListChange, Title: "List deleted", Body: ch.ID})
	case ch.List != nil:
		s.enqueue(notify.Event{Kind: notify.KindListChange, Title: "List saved", Body: ch.List.Name})
	}
}

func (s *Service) wishChanged(ch store.Change) {
	switch {
	case ch.Op == store.OpDelete:
		s.enqueue(notify.Event{Kind: notify.KindWishUpdate, Title: "Wish removed", Body: ch.ID})
	case ch.Wish != nil:
		s.enqueue(notify.Event{Kind: notify.KindWishUpdate, Title: "Wish saved", Body: ch.Wish.Title})
	}
}

func (s *Service) peerActivity(listID string, peer models.Collaborator, joined bool) {
	verb := "left"
	if joined {
		verb = "joined"
	}
	name := listID
	if l, ok := s.Lists.Get(listID); ok {
		name = l.Name
	}
	s.enqueue(notify.Event{
		Kind:  notify.KindCollaboratorActivity,
		Title: "Collaborator " + verb,
		Body:  fmt.Sprintf("%s %s %s", peer.Name, verb, name),
	})
}

// confirmationIssued sends the sign-up confirmation token to the user through
// the notification sinks
func (s *Service) confirmationIssued(c auth.Confirmation) {
	s.enqueue(notify.Event{
		Kind:  notify.KindAccount,
		Title: "Confirm your email",
		Body:  fmt.Sprintf("Confirm %s with token %s before %s", c.Email, c.Token, c.ExpiresAt.Format(time.RFC3339)),
	})
}
