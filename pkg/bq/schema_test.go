package bq

import (
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFromJSON(t *testing.T) {
	data := []byte(`[
		{"name": "id", "type": "STRING", "mode": "REQUIRED"},
		{"name": "count", "type": "INTEGER"},
		{"name": "tags", "type": "STRING", "mode": "REPEATED"}
	]`)

	schema, err := SchemaFromJSON(data)
	require.NoError(t, err)
	require.Len(t, schema, 3)

	assert.Equal(t, "id", schema[0].Name)
	assert.Equal(t, bigquery.StringFieldType, schema[0].Type)
	assert.True(t, schema[0].Required)

	assert.Equal(t, bigquery.IntegerFieldType, schema[1].Type)
	assert.False(t, schema[1].Required)
	assert.False(t, schema[1].Repeated)

	assert.True(t, schema[2].Repeated)
}

func TestSchemaFromJSON_Invalid(t *testing.T) {
	_, err := SchemaFromJSON([]byte(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestSchemaFromDefs_Nested(t *testing.T) {
	defs := []FieldDef{
		{
			Name: "address",
			Type: "record",
			Mode: "repeated",
			Fields: []FieldDef{
				{Name: "street", Type: "string"},
				{Name: "zip", Type: "string", Mode: "required"},
			},
		},
	}

	schema := SchemaFromDefs(defs)
	require.Len(t, schema, 1)
	assert.Equal(t, bigquery.RecordFieldType, schema[0].Type)
	assert.True(t, schema[0].Repeated)
	require.Len(t, schema[0].Schema, 2)
	assert.Equal(t, "street", schema[0].Schema[0].Name)
	assert.True(t, schema[0].Schema[1].Required)
}

func TestDefsFromSchemaRoundTrip(t *testing.T) {
	defs := []FieldDef{
		{Name: "id", Type: "STRING", Mode: "REQUIRED", Description: "primary key"},
		{Name: "count", Type: "INTEGER", Mode: "NULLABLE"},
		{
			Name: "events",
			Type: "RECORD",
			Mode: "REPEATED",
			Fields: []FieldDef{
				{Name: "ts", Type: "TIMESTAMP", Mode: "NULLABLE"},
			},
		},
	}

	back := DefsFromSchema(SchemaFromDefs(defs))
	assert.Equal(t, defs, back)
}

func TestTimePartitioningToBigQuery(t *testing.T) {
	tests := []struct {
		name     string
		part     *TimePartitioning
		wantType bigquery.TimePartitioningType
	}{
		{name: "hour", part: &TimePartitioning{Interval: "hour"}, wantType: bigquery.HourPartitioningType},
		{name: "day", part: &TimePartitioning{Interval: "DAY"}, wantType: bigquery.DayPartitioningType},
		{name: "month", part: &TimePartitioning{Interval: "Month"}, wantType: bigquery.MonthPartitioningType},
		{name: "year", part: &TimePartitioning{Interval: "YEAR"}, wantType: bigquery.YearPartitioningType},
		{name: "unknown interval ignored", part: &TimePartitioning{Interval: "FORTNIGHT"}, wantType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := tt.part.toBigQuery()
			require.NotNil(t, tp)
			assert.Equal(t, tt.wantType, tp.Type)
		})
	}

	t.Run("nil yields nil", func(t *testing.T) {
		var p *TimePartitioning
		assert.Nil(t, p.toBigQuery())
	})

	t.Run("field carried through", func(t *testing.T) {
		tp := (&TimePartitioning{Interval: "DAY", Field: "upload_date"}).toBigQuery()
		assert.Equal(t, "upload_date", tp.Field)
	})
}
