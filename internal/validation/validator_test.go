package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/types"
	"github.com/emberdb/ember/internal/validation"
)

func ptrFloat(f float64) *float64 { return &f }
func ptrInt(i int) *int           { return &i }

func TestPrepareInsertGeneratesUUID(t *testing.T) {
	schema := types.Schema{
		"id":   {Type: types.TypeString, Generated: types.GeneratedUUID},
		"name": {Type: types.TypeString, Required: true},
	}
	v := validation.New("users", "id", schema)

	rec, err := v.PrepareInsert(types.RecordFromMap(map[string]any{"name": "A"}), func() int64 { return 0 })
	require.NoError(t, err)
	assert.NotEmpty(t, rec["id"].AsString())
	assert.Equal(t, int64(1), rec.Version())

	rec2, err := v.PrepareInsert(types.RecordFromMap(map[string]any{"name": "B"}), func() int64 { return 0 })
	require.NoError(t, err)
	assert.NotEqual(t, rec["id"].AsString(), rec2["id"].AsString())
}

func TestPrepareInsertUniqueEmailSchemaShape(t *testing.T) {
	schema := types.Schema{
		"email": {Type: types.TypeString, Required: true, Unique: true},
	}
	v := validation.New("users", "email", schema)

	rec, err := v.PrepareInsert(types.RecordFromMap(map[string]any{"email": "a@x.com"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", rec["email"].AsString())
}

func TestValidationAggregatesIssues(t *testing.T) {
	schema := types.Schema{
		"name": {Type: types.TypeString, Required: true, MinLength: ptrInt(2)},
		"age":  {Type: types.TypeNumber, Min: ptrFloat(0)},
		"role": {Type: types.TypeString, Enum: []any{"a", "b"}},
	}
	v := validation.New("items", "name", schema)

	_, err := v.PrepareInsert(types.RecordFromMap(map[string]any{
		"name": "",
		"age":  -1,
		"role": "c",
	}), nil)
	require.Error(t, err)

	ve, ok := err.(*types.ValidationError)
	require.True(t, ok)

	codes := map[string]string{}
	for _, issue := range ve.Issues {
		codes[issue.Field] = issue.Code
	}
	assert.Equal(t, "minLength", codes["name"])
	assert.Equal(t, "min", codes["age"])
	assert.Equal(t, "enum", codes["role"])
}

func TestPrepareUpdateStripsReservedAndKeyFields(t *testing.T) {
	schema := types.Schema{
		"id":      {Type: types.TypeString},
		"balance": {Type: types.TypeNumber},
	}
	v := validation.New("accounts", "id", schema)

	existing := types.RecordFromMap(map[string]any{
		"id":         "a1",
		"balance":    1000,
		"_version":   int64(1),
		"_createdAt": int64(1000),
		"_updatedAt": int64(1000),
	})

	updated, err := v.PrepareUpdate(existing, types.RecordFromMap(map[string]any{
		"id":         "should-be-ignored",
		"_version":   int64(999),
		"balance":    800,
	}))
	require.NoError(t, err)
	assert.Equal(t, "a1", updated["id"].AsString())
	assert.Equal(t, int64(2), updated.Version())
	assert.Equal(t, int64(800), updated["balance"].AsInt())
	assert.Equal(t, int64(1000), updated.CreatedAt())
}

func TestFormatEmailAndISODate(t *testing.T) {
	schema := types.Schema{
		"email": {Type: types.TypeString, Format: types.FormatEmail},
		"day":   {Type: types.TypeString, Format: types.FormatISODate},
	}
	v := validation.New("events", "email", schema)

	_, err := v.PrepareInsert(types.RecordFromMap(map[string]any{
		"email": "not-an-email",
		"day":   "2024-02-30",
	}), nil)
	require.Error(t, err)

	_, err = v.PrepareInsert(types.RecordFromMap(map[string]any{
		"email": "a@b.com",
		"day":   "2024-02-29",
	}), nil)
	require.NoError(t, err)
}
