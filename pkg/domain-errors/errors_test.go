package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindTaxonomy(t *testing.T) {
	cases := map[Code]Kind{
		CodeInvalidAmount:       KindValidation,
		CodeForbidden:           KindAuthorization,
		CodeInsufficientBalance: KindStateConflict,
		CodeInvalidState:        KindStateConflict,
		CodeTransferFailed:      KindExternalTransfer,
		Code("made_up"):         KindInternal,
	}
	for code, kind := range cases {
		assert.Equal(t, kind, code.Kind(), string(code))
	}
}

func TestWrapChain(t *testing.T) {
	t.Run("wrap nil is nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "x"))
	})

	t.Run("has code finds inner codes", func(t *testing.T) {
		inner := New(CodeInsufficientBalance, "balance too low")
		outer := Wrap(inner, CodeTransferFailed, "payout failed")

		assert.True(t, HasCode(outer, CodeTransferFailed))
		assert.True(t, HasCode(outer, CodeInsufficientBalance))
		assert.Equal(t, CodeTransferFailed, CodeOf(outer))
		assert.Equal(t, KindExternalTransfer, KindOf(outer))
		assert.ErrorIs(t, outer, inner)
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		err := fmt.Errorf("dial: %w", errors.New("refused"))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, err.Error(), Message(err))
	})
}

func TestBecause(t *testing.T) {
	errNotPending := New(CodeInvalidState, "request is not pending")
	cause := errors.New("status approved")

	err := errNotPending.Because(cause)
	assert.ErrorIs(t, err, errNotPending)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInvalidState, CodeOf(err))

	again := err.Because(errors.New("second"))
	assert.ErrorIs(t, again, errNotPending)

	other := New(CodeInvalidState, "request is not pending")
	assert.NotErrorIs(t, err, other)
	assert.ErrorIs(t, fmt.Errorf("approve: %w", err), errNotPending)
}
