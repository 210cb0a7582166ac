package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers value movements and identity changes that
	// must be reconstructable for regulators: stakes, payouts, mints, burns,
	// identity registration and deletion.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers privilege changes and enforcement actions:
	// role grants, freezes, forced transfers.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine configuration changes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory     `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Asset     string            `json:"asset,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Status    string            `json:"status,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

type AuditEvent string

const (
	// Custody events
	EventStaked            AuditEvent = "custody_staked"
	EventUnstakeRequested  AuditEvent = "custody_unstake_requested"
	EventUnstakeApproved   AuditEvent = "custody_unstake_approved"
	EventUnstakeRejected   AuditEvent = "custody_unstake_rejected"
	EventTokenRegistered   AuditEvent = "custody_token_registered"
	EventTokenUnregistered AuditEvent = "custody_token_unregistered"

	// Eligibility events
	EventIdentityRegistered AuditEvent = "identity_registered"
	EventIdentityDeleted    AuditEvent = "identity_deleted"
	EventWalletsAdded       AuditEvent = "identity_wallets_added"
	EventWalletsRemoved     AuditEvent = "identity_wallets_removed"
	EventIdentityUpdated    AuditEvent = "identity_updated"

	// Issuance events
	EventMintRequested     AuditEvent = "issuance_mint_requested"
	EventBurnRequested     AuditEvent = "issuance_burn_requested"
	EventRequestApproved   AuditEvent = "issuance_request_approved"
	EventRequestRejected   AuditEvent = "issuance_request_rejected"
	EventAccountFrozen     AuditEvent = "issuance_account_frozen"
	EventAccountUnfrozen   AuditEvent = "issuance_account_unfrozen"
	EventCountryListed     AuditEvent = "issuance_country_listed"
	EventCountryUnlisted   AuditEvent = "issuance_country_unlisted"
	EventListModeChanged   AuditEvent = "issuance_list_mode_changed"
	EventRegistryChanged   AuditEvent = "issuance_registry_changed"
	EventForcedTransfer    AuditEvent = "issuance_forced_transfer"
	EventTokensRecovered   AuditEvent = "issuance_tokens_recovered"
	EventNativeRecovered   AuditEvent = "issuance_native_recovered"
	EventTransferPerformed AuditEvent = "issuance_transfer"

	// Access events
	EventRoleGranted AuditEvent = "role_granted"
	EventRoleRevoked AuditEvent = "role_revoked"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventStaked:             CategoryCompliance,
	EventUnstakeRequested:   CategoryCompliance,
	EventUnstakeApproved:    CategoryCompliance,
	EventUnstakeRejected:    CategoryCompliance,
	EventIdentityRegistered: CategoryCompliance,
	EventIdentityDeleted:    CategoryCompliance,
	EventWalletsAdded:       CategoryCompliance,
	EventWalletsRemoved:     CategoryCompliance,
	EventIdentityUpdated:    CategoryCompliance,
	EventMintRequested:      CategoryCompliance,
	EventBurnRequested:      CategoryCompliance,
	EventRequestApproved:    CategoryCompliance,
	EventRequestRejected:    CategoryCompliance,
	EventTransferPerformed:  CategoryCompliance,

	EventRoleGranted:     CategorySecurity,
	EventRoleRevoked:     CategorySecurity,
	EventAccountFrozen:   CategorySecurity,
	EventAccountUnfrozen: CategorySecurity,
	EventForcedTransfer:  CategorySecurity,
	EventTokensRecovered: CategorySecurity,
	EventNativeRecovered: CategorySecurity,
	EventRegistryChanged: CategorySecurity,

	EventTokenRegistered:   CategoryOperations,
	EventTokenUnregistered: CategoryOperations,
	EventCountryListed:     CategoryOperations,
	EventCountryUnlisted:   CategoryOperations,
	EventListModeChanged:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Emitter is the sink services publish to. Publishers, the compliance
// publisher and the stream publisher all satisfy it.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
