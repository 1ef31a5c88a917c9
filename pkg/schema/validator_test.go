package schema_test

import (
	"errors"
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/schema"
)

const userSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"id":   {"type": "string"},
		"age":  {"type": "integer", "minimum": 0}
	},
	"required": ["id"]
}`

func TestJSONValidator(t *testing.T) {
	v, err := schema.NewJSONValidator(userSchemaJSON)
	require.NoError(t, err)

	assert.NoError(t, v.Validate([]byte(`{"id":"u1","age":30}`)))

	err = v.Validate([]byte(`{"age":-1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrRecordRejected),
		"schema mismatch must classify as a rejected record")

	err = v.Validate([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrRecordRejected))
}

func TestJSONValidator_BadSchema(t *testing.T) {
	_, err := schema.NewJSONValidator(`{"type": 42}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrInvalidSchema))
}

const userSchemaAvro = `{
	"type": "record",
	"name": "user",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "age", "type": "long"}
	]
}`

func TestAvroValidator(t *testing.T) {
	v, err := schema.NewAvroValidator(userSchemaAvro)
	require.NoError(t, err)

	parsed, err := avro.Parse(userSchemaAvro)
	require.NoError(t, err)
	payload, err := avro.Marshal(parsed, map[string]any{"id": "u1", "age": int64(30)})
	require.NoError(t, err)

	assert.NoError(t, v.Validate(payload))

	err = v.Validate([]byte{0xFF})
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrRecordRejected))
}

func TestNoopValidator(t *testing.T) {
	assert.NoError(t, schema.NoopValidator{}.Validate([]byte("anything")))
}
