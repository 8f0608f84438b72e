package facade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelsystems/decibel/internal/model"
)

func TestResolveActions(t *testing.T) {
	table := Default()

	op, err := table.Resolve("decibel_record", "log_issue")
	require.NoError(t, err)
	assert.Equal(t, OpIssueLog, op)

	// A facade without an action enum resolves to its own name.
	op, err = table.Resolve("decibel_health", "")
	require.NoError(t, err)
	assert.Equal(t, OpHealth, op)
}

func TestResolveUnknownToolAndAction(t *testing.T) {
	table := Default()

	_, err := table.Resolve("nonexistent", "log_issue")
	var coded *model.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.ErrCodeUnknownTool, coded.Code)

	_, err = table.Resolve("decibel_record", "explode")
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.ErrCodeUnknownAction, coded.Code)

	// Missing action on a facade with an enum is UNKNOWN_ACTION, never a
	// fall-through to some default.
	_, err = table.Resolve("decibel_record", "")
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.ErrCodeUnknownAction, coded.Code)
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	_, err := NewTable([]Spec{
		{Name: "a", Compact: "x"},
		{Name: "a", Compact: "y"},
	})
	assert.Error(t, err)
}

func TestValidateDanglingMapping(t *testing.T) {
	table := Default()

	// Every default mapping resolves against the full operation set.
	ops := make(map[string]bool)
	for _, op := range table.Operations() {
		ops[op] = true
	}
	require.NoError(t, table.Validate(func(op string) bool { return ops[op] }))

	// Remove one operation and validation must fail.
	delete(ops, OpIssueLog)
	assert.Error(t, table.Validate(func(op string) bool { return ops[op] }))
}

func TestDescribeTierSubsets(t *testing.T) {
	table := Default()

	full := table.Describe(TierFull)
	compact := table.Describe(TierCompact)
	micro := table.Describe(TierMicro)

	names := func(ds []ToolDescription) map[string]bool {
		m := make(map[string]bool, len(ds))
		for _, d := range ds {
			m[d.Name] = true
		}
		return m
	}
	fullNames, compactNames, microNames := names(full), names(compact), names(micro)

	// micro ⊆ compact ⊆ full.
	for n := range microNames {
		assert.True(t, compactNames[n], "micro facade %s missing from compact", n)
	}
	for n := range compactNames {
		assert.True(t, fullNames[n], "compact facade %s missing from full", n)
	}

	// micro never includes a facade that is not micro-eligible.
	for _, s := range table.Specs() {
		if !s.MicroEligible {
			assert.False(t, microNames[s.Name], "non-eligible facade %s in micro view", s.Name)
		}
	}
}

func TestDescribeRegeneratedFromOneSource(t *testing.T) {
	table := Default()

	full := table.Describe(TierFull)
	compact := table.Describe(TierCompact)

	// Same facades and actions in both views; only the description and
	// help depth differ.
	require.Equal(t, len(full), len(compact))
	for i := range full {
		assert.Equal(t, full[i].Name, compact[i].Name)
		assert.Equal(t, full[i].Actions, compact[i].Actions)
		assert.Empty(t, compact[i].ActionHelp)
	}

	spec, ok := table.Lookup("decibel_record")
	require.True(t, ok)
	assert.Equal(t, spec.Full, full[0].Description)
	assert.Equal(t, spec.Compact, compact[0].Description)
}

func TestMCPToolsCarryActionEnum(t *testing.T) {
	table := Default()

	tools := table.MCPTools(TierCompact)
	require.Len(t, tools, len(table.Specs()))

	byName := make(map[string]int)
	for i, tool := range tools {
		byName[tool.Name] = i
	}

	rec := tools[byName["decibel_record"]]
	action, ok := rec.InputSchema.Properties["action"]
	require.True(t, ok, "decibel_record tool must declare an action parameter")
	schema, ok := action.(map[string]any)
	require.True(t, ok)
	assert.Len(t, schema["enum"], 6)

	// No action enum on a direct facade.
	health := tools[byName["decibel_health"]]
	_, ok = health.InputSchema.Properties["action"]
	assert.False(t, ok)
}

func TestParseTier(t *testing.T) {
	for _, s := range []string{"full", "compact", "micro"} {
		tier, err := ParseTier(s)
		require.NoError(t, err)
		assert.Equal(t, Tier(s), tier)
	}
	_, err := ParseTier("huge")
	assert.Error(t, err)
}
