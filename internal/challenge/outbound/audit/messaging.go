package audit

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/codes"

	"github.com/arvikon/otpgate/internal/challenge/usecase"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
	"github.com/arvikon/otpgate/internal/pkg/messaging"
	"github.com/arvikon/otpgate/internal/shared/event"
)

const keyOfCorrelationID string = "cID"

// Messaging publishes audit events to the configured broker.
type Messaging struct {
	client messaging.Messaging
	ins    instrument.Instrumentation
}

func NewMessaging(client messaging.Messaging, ins instrument.Instrumentation) *Messaging {
	return &Messaging{client: client, ins: ins}
}

func (m *Messaging) PublishChallengeAudit(ctx context.Context, msg usecase.ChallengeAuditEvent) error {
	ctx, span := m.ins.Tracer("challenge.outbound.audit").Start(ctx, "PublishChallengeAudit")
	defer span.End()

	body, err := json.Marshal(event.ChallengeAuditMessage{
		Event:       msg.Event,
		ChallengeID: msg.ChallengeID,
		Identifier:  msg.Identifier,
		Purpose:     msg.Purpose,
		Channel:     msg.Channel,
		State:       msg.State,
		ProviderID:  msg.ProviderID,
		OccurredAt:  msg.OccurredAt.Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cID := instrument.GetCorrelationID(ctx)
	if _, err := m.client.Publish(ctx, event.ChallengeAuditDestination, messaging.OutgoingMessage{
		Body:    body,
		Key:     []byte(msg.Identifier),
		Headers: []messaging.Header{{Key: keyOfCorrelationID, Value: []byte(cID)}},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (m *Messaging) PublishRiskAudit(ctx context.Context, msg usecase.RiskAuditEvent) error {
	ctx, span := m.ins.Tracer("challenge.outbound.audit").Start(ctx, "PublishRiskAudit")
	defer span.End()

	body, err := json.Marshal(event.RiskAuditMessage{
		Identifier:  msg.Identifier,
		IP:          msg.IP,
		Fingerprint: msg.Fingerprint,
		Score:       msg.Score,
		Decision:    msg.Decision,
		Factors:     msg.Factors,
		OccurredAt:  msg.OccurredAt.Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cID := instrument.GetCorrelationID(ctx)
	if _, err := m.client.Publish(ctx, event.RiskAuditDestination, messaging.OutgoingMessage{
		Body:    body,
		Key:     []byte(msg.Identifier),
		Headers: []messaging.Header{{Key: keyOfCorrelationID, Value: []byte(cID)}},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}
