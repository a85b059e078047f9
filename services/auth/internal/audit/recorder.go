// Package audit turns auth events from the bus into audit_logs rows.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"outsy/services/auth/internal/models"
	"outsy/services/auth/internal/session"
)

const subjectPrefix = "outsy.auth."

// Subscriber delivers bus messages. The NATS bus implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Recorder persists auth events.
type Recorder struct {
	orm *gorm.DB
	log zerolog.Logger
}

func NewRecorder(orm *gorm.DB, log zerolog.Logger) (*Recorder, error) {
	if orm == nil {
		return nil, errors.New("audit: gorm handle is required")
	}
	return &Recorder{orm: orm, log: log.With().Str("component", "audit").Logger()}, nil
}

// Run subscribes to every auth subject and blocks until ctx is done.
func (r *Recorder) Run(ctx context.Context, sub Subscriber) error {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for _, subj := range session.Subjects {
		c, err := sub.Subscribe(ctx, subj, durableName(subj), r.Handle)
		if err != nil {
			return fmt.Errorf("audit: subscribe %s: %w", subj, err)
		}
		closers = append(closers, c)
	}
	r.log.Info().Int("subjects", len(closers)).Msg("audit recorder started")

	<-ctx.Done()
	return nil
}

// Handle decodes one message and records it. Undecodable messages are
// dropped so they are acknowledged instead of redelivered forever.
func (r *Recorder) Handle(ctx context.Context, data []byte) error {
	var ev session.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.Error().Err(err).Msg("drop undecodable audit event")
		return nil
	}
	return r.Record(ctx, ev)
}

// Record writes ev to audit_logs.
func (r *Recorder) Record(ctx context.Context, ev session.Event) error {
	entry, err := Entry(ev)
	if err != nil {
		return err
	}
	if err := r.orm.WithContext(ctx).Create(&entry).Error; err != nil {
		r.log.Error().Err(err).Str("action", entry.Action).Msg("write audit log")
		return fmt.Errorf("audit.Record: %w", err)
	}
	return nil
}

// Entry maps an event to its audit row.
func Entry(ev session.Event) (models.AuditLog, error) {
	meta := map[string]any{}
	if ev.Email != "" {
		meta["email"] = ev.Email
	}
	if ev.Role != "" {
		meta["role"] = ev.Role
	}
	if ev.Revoked != 0 {
		meta["revoked"] = ev.Revoked
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return models.AuditLog{}, fmt.Errorf("audit.Entry: %w", err)
	}

	actor := ev.ActorID
	if actor == nil {
		id := ev.UserID
		actor = &id
	}
	target := ev.UserID.String()

	entry := models.AuditLog{
		ActorID:    actor,
		Action:     strings.TrimPrefix(ev.Subject, subjectPrefix),
		TargetType: "user",
		TargetID:   &target,
		Metadata:   datatypes.JSON(raw),
	}
	if !ev.At.IsZero() {
		entry.CreatedAt = ev.At
	}
	return entry, nil
}

func durableName(subject string) string {
	return "audit-" + strings.ReplaceAll(strings.TrimPrefix(subject, subjectPrefix), ".", "-")
}
