package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_WarningsDoNotBlock(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes[2]", ErrCodeValidation, "condition has 3 outgoing edges")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("edges[0].target", ErrCodeDanglingEdge, "unknown node")

	r2 := &ValidationResult{}
	r2.AddError("nodes", ErrCodeNoTrigger, NoTriggerMessage)
	r2.AddWarning("nodes[1]", ErrCodeValidation, "warn")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError_KeepsSingleCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes", ErrCodeNoTrigger, NoTriggerMessage)

	err := r.ToError()
	require.Error(t, err)

	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, ErrCodeNoTrigger, flowErr.Code)
	assert.Equal(t, NoTriggerMessage, flowErr.Message)
	assert.Equal(t, 1, flowErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("edges[0].source", ErrCodeDanglingEdge, "err1")
	r.AddError("edges[1].target", ErrCodeDanglingEdge, "err2")

	err := r.ToError()
	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, ErrCodeValidation, flowErr.Code)
	assert.Contains(t, flowErr.Message, "2 errors")
}

func TestFlowError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeStepFailed, "status %d", 500).WithNode("send")
	assert.Equal(t, "[STEP_FAILED] node send: status 500", err.Error())

	cause := errors.New("boom")
	wrapped := NewError(ErrCodeStore, "write").WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestNode_IsEnabled(t *testing.T) {
	off := false
	assert.True(t, (&Node{}).IsEnabled())
	assert.False(t, (&Node{Enabled: &off}).IsEnabled())
}
