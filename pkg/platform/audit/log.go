package audit

import (
	"context"
	"log/slog"

	"custody/pkg/platform/attrs"
	"custody/pkg/requestcontext"
)

// Attribute keys lifted out of the log attributes into Event fields.
const (
	AttrActor   = "actor"
	AttrSubject = "subject"
	AttrAsset   = "asset"
	AttrAmount  = "amount"
	AttrStatus  = "status"
	AttrReason  = "reason"
)

var promoted = map[string]struct{}{
	AttrActor:   {},
	AttrSubject: {},
	AttrAsset:   {},
	AttrAmount:  {},
	AttrStatus:  {},
	AttrReason:  {},
}

// LogAudit logs an audit event to the structured logger and publishes it.
// Services call it after their store transaction has committed, so the log
// line is always written and the published copy is best effort. A publish
// failure is never returned; it is logged at error level with every event
// field so the missing outbox row can be backfilled from the log.
func LogAudit(ctx context.Context, logger *slog.Logger, emitter Emitter, event AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	if agent := requestcontext.ClientAgent(ctx); agent != "" {
		attrList = append(attrList, "client_agent", agent)
	}
	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}
	if emitter == nil {
		return
	}

	record := Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		Action:    string(event),
		ActorID:   attrs.ExtractString(attrList, AttrActor),
		Subject:   attrs.ExtractString(attrList, AttrSubject),
		Asset:     attrs.ExtractString(attrList, AttrAsset),
		Amount:    attrs.ExtractString(attrList, AttrAmount),
		Status:    attrs.ExtractString(attrList, AttrStatus),
		Reason:    attrs.ExtractString(attrList, AttrReason),
		RequestID: requestID,
		Details:   details(attrList),
	}
	if err := emitter.Emit(ctx, record); err != nil && logger != nil {
		logger.ErrorContext(ctx, "audit event not published",
			"event", record.Action,
			"category", string(record.Category),
			"timestamp", record.Timestamp,
			"actor", record.ActorID,
			"subject", record.Subject,
			"asset", record.Asset,
			"amount", record.Amount,
			"status", record.Status,
			"reason", record.Reason,
			"request_id", record.RequestID,
			"details", record.Details,
			"log_type", "audit_gap",
			"error", err,
		)
	}
}

func details(attrList []any) map[string]string {
	var out map[string]string
	for i := 0; i < len(attrList)-1; i += 2 {
		k, ok := attrList[i].(string)
		if !ok || k == "request_id" {
			continue
		}
		if _, skip := promoted[k]; skip {
			continue
		}
		v := attrs.ExtractString(attrList[i:i+2], k)
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}
