package service

import dErrors "custody/pkg/domain-errors"

var (
	ErrInvalidAmount                = dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	ErrZeroAddress                  = dErrors.New(dErrors.CodeInvalidInput, "address must not be zero")
	ErrAssetNotRegistered           = dErrors.New(dErrors.CodeInvalidState, "asset is not registered for staking")
	ErrUnknownAsset                 = dErrors.New(dErrors.CodeNotFound, "no token is known at this address")
	ErrTokenAlreadyRegistered       = dErrors.New(dErrors.CodeConflict, "asset is already registered")
	ErrTokenNotRegistered           = dErrors.New(dErrors.CodeConflict, "asset is not registered")
	ErrUnknownLender                = dErrors.New(dErrors.CodeInvalidState, "lender is not on the approved lender list")
	ErrInsufficientAvailableBalance = dErrors.New(dErrors.CodeInsufficientBalance, "available balance is insufficient")
	ErrInsufficientFrozenBalance    = dErrors.New(dErrors.CodeInsufficientBalance, "frozen balance is insufficient")
	ErrBalanceOverflow              = dErrors.New(dErrors.CodeInvariantViolation, "balance would exceed 2^256-1")
	ErrRequestNotFound              = dErrors.New(dErrors.CodeNotFound, "unstake request not found")
	ErrRequestNotPending            = dErrors.New(dErrors.CodeInvalidState, "unstake request is not pending")
	ErrTransferFailed               = dErrors.New(dErrors.CodeTransferFailed, "token transfer failed")
	ErrStoreConflict                = dErrors.New(dErrors.CodeConflict, "concurrent update; retry the call")
)
