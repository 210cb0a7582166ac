package service

import dErrors "custody/pkg/domain-errors"

var (
	ErrZeroHash           = dErrors.New(dErrors.CodeInvalidInput, "identity hash must not be zero")
	ErrNoWallets          = dErrors.New(dErrors.CodeValidation, "at least one wallet is required")
	ErrZeroWallet         = dErrors.New(dErrors.CodeInvalidInput, "wallet must not be the zero address")
	ErrDuplicateWallet    = dErrors.New(dErrors.CodeInvalidInput, "wallet listed more than once")
	ErrTooManyWallets     = dErrors.New(dErrors.CodeInvalidInput, "too many wallets for one identity")
	ErrExpiryNotInFuture  = dErrors.New(dErrors.CodeInvalidInput, "expiry date must be in the future")
	ErrEmptyBatch         = dErrors.New(dErrors.CodeValidation, "batch must contain at least one identity")
	ErrIdentityExists     = dErrors.New(dErrors.CodeConflict, "identity already registered")
	ErrWalletBound        = dErrors.New(dErrors.CodeConflict, "wallet is already bound to an identity")
	ErrIdentityNotFound   = dErrors.New(dErrors.CodeNotFound, "identity not found")
	ErrWalletNotOwned     = dErrors.New(dErrors.CodeConflict, "wallet does not belong to the identity")
	ErrWalletLimitReached = dErrors.New(dErrors.CodeInvalidState, "identity would exceed the wallet limit")
	ErrStoreBusy          = dErrors.New(dErrors.CodeConflict, "identity store is busy; retry the call")
	ErrLastWallet         = dErrors.New(dErrors.CodeInvalidState, "an identity must keep at least one wallet; delete the identity instead")
)
