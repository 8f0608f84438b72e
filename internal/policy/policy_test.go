package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/model"
)

func TestReadOnlyForUnknown(t *testing.T) {
	gate := ReadOnlyForUnknown()
	ctx := context.Background()

	// Unknown callers can read but not write.
	assert.NoError(t, gate(ctx, facade.OpSearchQuery, model.CallerContext{}))
	assert.NoError(t, gate(ctx, facade.OpHealth, model.CallerContext{}))

	err := gate(ctx, facade.OpIssueLog, model.CallerContext{})
	var coded *model.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.ErrCodeAccessDenied, coded.Code)

	// Identified callers write freely.
	assert.NoError(t, gate(ctx, facade.OpIssueLog, model.CallerContext{Role: model.RoleAgent}))
	assert.NoError(t, gate(ctx, facade.OpIssueLog, model.CallerContext{Role: model.RoleTrusted}))
}

func TestAllowAll(t *testing.T) {
	gate := AllowAll()
	assert.NoError(t, gate(context.Background(), facade.OpIssueLog, model.CallerContext{}))
}
