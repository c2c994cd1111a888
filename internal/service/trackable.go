package service

import (
	"context"

	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/repository"
)

type entityTrackable struct {
	sendRepo repository.SendRepository
	ref      model.Reference
}

// NewTrackable exposes the send history of entity.
func NewTrackable(sendRepo repository.SendRepository, entity model.Referencer) Trackable {
	return &entityTrackable{sendRepo: sendRepo, ref: entity.Ref()}
}

func (t *entityTrackable) RecipientHistory(ctx context.Context) ([]*model.SendRecord, error) {
	return t.sendRepo.ListByRecipient(ctx, t.ref)
}

func (t *entityTrackable) RelatedSendHistory(ctx context.Context) ([]*model.SendRecord, error) {
	return t.sendRepo.ListByLinked(ctx, t.ref)
}
