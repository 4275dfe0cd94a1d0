package bq

import (
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
)

// FieldDef describes one column of a table schema, in the same shape as
// `bq show --format=prettyjson project:dataset.table | jq '.schema.fields'`.
type FieldDef struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Mode        string     `json:"mode,omitempty"`
	Description string     `json:"description,omitempty"`
	Fields      []FieldDef `json:"fields,omitempty"`
}

// SchemaFromJSON parses a JSON array of field definitions into a BigQuery
// schema.
func SchemaFromJSON(data []byte) (bigquery.Schema, error) {
	var defs []FieldDef
	if err := jsonutil.Unmarshal(data, &defs); err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "invalid schema JSON")
	}
	return SchemaFromDefs(defs), nil
}

// SchemaFromDefs converts field definitions to a BigQuery schema. Mode
// defaults to NULLABLE; RECORD fields convert recursively.
func SchemaFromDefs(defs []FieldDef) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(defs))
	for _, def := range defs {
		field := &bigquery.FieldSchema{
			Name:        def.Name,
			Type:        bigquery.FieldType(strings.ToUpper(def.Type)),
			Description: def.Description,
		}
		switch strings.ToUpper(def.Mode) {
		case "REQUIRED":
			field.Required = true
		case "REPEATED":
			field.Repeated = true
		}
		if len(def.Fields) > 0 {
			field.Schema = SchemaFromDefs(def.Fields)
		}
		schema = append(schema, field)
	}
	return schema
}

// DefsFromSchema converts a BigQuery schema back to field definitions, the
// inverse of SchemaFromDefs. Used when autodetecting a schema from data.
func DefsFromSchema(schema bigquery.Schema) []FieldDef {
	defs := make([]FieldDef, 0, len(schema))
	for _, field := range schema {
		def := FieldDef{
			Name:        field.Name,
			Type:        string(field.Type),
			Description: field.Description,
		}
		switch {
		case field.Repeated:
			def.Mode = "REPEATED"
		case field.Required:
			def.Mode = "REQUIRED"
		default:
			def.Mode = "NULLABLE"
		}
		if len(field.Schema) > 0 {
			def.Fields = DefsFromSchema(field.Schema)
		}
		defs = append(defs, def)
	}
	return defs
}

// TimePartitioning configures table time partitioning.
type TimePartitioning struct {
	// Interval is one of HOUR, DAY, MONTH or YEAR, case-insensitive. An
	// unrecognized value is ignored and BigQuery's default (DAY) applies.
	Interval string
	// Field is a top-level DATE, DATETIME or TIMESTAMP column to partition
	// on; empty means ingestion-time partitioning.
	Field string
}

func (p *TimePartitioning) toBigQuery() *bigquery.TimePartitioning {
	if p == nil {
		return nil
	}
	tp := &bigquery.TimePartitioning{Field: p.Field}
	switch strings.ToUpper(p.Interval) {
	case "HOUR":
		tp.Type = bigquery.HourPartitioningType
	case "DAY":
		tp.Type = bigquery.DayPartitioningType
	case "MONTH":
		tp.Type = bigquery.MonthPartitioningType
	case "YEAR":
		tp.Type = bigquery.YearPartitioningType
	}
	return tp
}
