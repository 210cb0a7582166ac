package service

import dErrors "custody/pkg/domain-errors"

var (
	ErrInvalidAmount         = dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	ErrZeroAddress           = dErrors.New(dErrors.CodeInvalidInput, "address must not be zero")
	ErrRequestNotFound       = dErrors.New(dErrors.CodeNotFound, "token request not found")
	ErrRequestNotPending     = dErrors.New(dErrors.CodeInvalidState, "token request is not pending")
	ErrEscrowProtected       = dErrors.New(dErrors.CodeInvalidState, "the escrow account only moves through burn requests")
	ErrEscrowMismatch        = dErrors.New(dErrors.CodeInvariantViolation, "temporary balance is below the escrowed amount")
	ErrAlreadyFrozen         = dErrors.New(dErrors.CodeConflict, "account is already frozen")
	ErrNotFrozen             = dErrors.New(dErrors.CodeConflict, "account is not frozen")
	ErrEmptyCountries        = dErrors.New(dErrors.CodeValidation, "at least one country is required")
	ErrDuplicateCountry      = dErrors.New(dErrors.CodeValidation, "country appears more than once")
	ErrCountryListed         = dErrors.New(dErrors.CodeConflict, "country is already listed")
	ErrCountryNotListed      = dErrors.New(dErrors.CodeConflict, "country is not listed")
	ErrInvalidListMode       = dErrors.New(dErrors.CodeInvalidInput, "list mode must be whitelist or blacklist")
	ErrUnknownRegistry       = dErrors.New(dErrors.CodeNotFound, "no identity registry at this address")
	ErrUnknownAsset          = dErrors.New(dErrors.CodeNotFound, "no token is known at this address")
	ErrRecoverIssuedToken    = dErrors.New(dErrors.CodeInvalidState, "escrowed issued tokens cannot be recovered")
	ErrNativeUnavailable     = dErrors.New(dErrors.CodeInvalidState, "native currency recovery is not configured")
	ErrInsufficientBalance   = dErrors.New(dErrors.CodeInsufficientBalance, "token balance is insufficient")
	ErrInsufficientAllowance = dErrors.New(dErrors.CodeInsufficientBalance, "token allowance is insufficient")
	ErrSupplyOverflow        = dErrors.New(dErrors.CodeInvariantViolation, "total supply would exceed 2^256-1")
	ErrTransferFailed        = dErrors.New(dErrors.CodeTransferFailed, "token transfer failed")
	ErrStoreConflict         = dErrors.New(dErrors.CodeConflict, "concurrent update; retry the call")
)
