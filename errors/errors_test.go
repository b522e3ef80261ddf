package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelChecksSurviveWrapping(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFound("job %s", "abc"), IsNotFound},
		{"conflict", Wrap(ErrConflict, "insert"), IsConflict},
		{"invalid state", NewInvalidState("abc", "completed", "cancel"), IsInvalidState},
		{"validation", NewValidation("bad payload"), IsValidation},
		{"transient", Transient(New("connection reset"), "publish"), IsTransient},
		{"permanent", Permanent(New("rejected"), "publish"), IsPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			assert.True(t, tc.check(Wrap(tc.err, "outer context")))
			assert.False(t, tc.check(nil))
			assert.False(t, tc.check(New("unrelated")))
		})
	}
}

func TestAuthIsNotPermanent(t *testing.T) {
	// Auth failures may recover once credentials are fixed, so they go
	// through the retry ceiling rather than failing outright
	err := Wrap(ErrAuth, "token refresh rejected")
	assert.True(t, Is(err, ErrAuth))
	assert.False(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
}

func TestNewInvalidStateCarriesCurrentState(t *testing.T) {
	err := NewInvalidState("job-1", "dispatching", "cancel")
	assert.Contains(t, err.Error(), "job-1")
	assert.Contains(t, err.Error(), "cancel")
	assert.Contains(t, GetAllDetails(err), "current state: dispatching")
}

func TestClassifiersPreserveMessage(t *testing.T) {
	err := Transient(New("i/o timeout"), "publish request")
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Contains(t, err.Error(), "publish request")
}
