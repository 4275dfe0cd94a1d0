// Package bq wraps the BigQuery client with dataset/table DDL, NDJSON bulk
// loads from Cloud Storage, and queries returning plain row maps.
package bq

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/gcs"
	"github.com/stackbound/gcpkit/pkg/logger"
)

const defaultDatasetLocation = "US"

// tempAutodetectTable holds autodetected data just long enough to read its
// schema back out.
const tempAutodetectTable = "temp_table_autodetect_schema"

// Client wraps a BigQuery client bound to a project.
type Client struct {
	bq     *bigquery.Client
	logger *zap.Logger
}

// NewClient creates a BigQuery client for the given project using application
// default credentials unless overridden with options.
func NewClient(ctx context.Context, project string, opts ...option.ClientOption) (*Client, error) {
	bqClient, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create bigquery client")
	}
	return &Client{
		bq:     bqClient,
		logger: logger.Get().With(zap.String("component", "bq"), zap.String("project", project)),
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.bq.Close()
}

// Project returns the project the client is bound to.
func (c *Client) Project() string {
	return c.bq.Project()
}

// DatasetOptions configures CreateDataset. The zero value creates an
// undescribed dataset in the US multi-region.
type DatasetOptions struct {
	Location    string
	Description string
}

// CreateDataset creates a dataset. The executing account needs the BigQuery
// User role on the project.
func (c *Client) CreateDataset(ctx context.Context, dataset string, opts *DatasetOptions) error {
	if opts == nil {
		opts = &DatasetOptions{}
	}
	location := opts.Location
	if location == "" {
		location = defaultDatasetLocation
	}

	c.logger.Info("creating dataset",
		zap.String("dataset", dataset),
		zap.String("location", location))

	err := c.bq.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{
		Location:    location,
		Description: opts.Description,
	})
	if err != nil {
		return c.wrapDDLError(err, "failed to create dataset", dataset)
	}

	c.logger.Info("dataset created", zap.String("dataset", dataset))
	return nil
}

// DeleteDataset deletes a dataset. deleteContents also removes any tables in
// it; without it, deleting a non-empty dataset fails. notFoundOK suppresses
// the error for a missing dataset.
func (c *Client) DeleteDataset(ctx context.Context, dataset string, deleteContents, notFoundOK bool) error {
	c.logger.Info("deleting dataset",
		zap.String("dataset", dataset),
		zap.Bool("delete_contents", deleteContents))

	ds := c.bq.Dataset(dataset)
	var err error
	if deleteContents {
		err = ds.DeleteWithContents(ctx)
	} else {
		err = ds.Delete(ctx)
	}
	if err != nil {
		if notFoundOK && isStatus(err, http.StatusNotFound) {
			c.logger.Info("dataset not found, ignoring", zap.String("dataset", dataset))
			return nil
		}
		return c.wrapDDLError(err, "failed to delete dataset", dataset)
	}

	c.logger.Info("dataset deleted", zap.String("dataset", dataset))
	return nil
}

// CreateTable creates a table with the given schema and optional time
// partitioning. A nil schema creates a schemaless table.
func (c *Client) CreateTable(ctx context.Context, dataset, table string, schema []FieldDef, partitioning *TimePartitioning) error {
	tableID := c.tableID(dataset, table)
	c.logger.Info("creating table", zap.String("table", tableID))

	meta := &bigquery.TableMetadata{}
	if len(schema) > 0 {
		meta.Schema = SchemaFromDefs(schema)
	}
	if partitioning != nil {
		c.logger.Info("configuring partitioning",
			zap.String("interval", partitioning.Interval),
			zap.String("field", partitioning.Field))
		meta.TimePartitioning = partitioning.toBigQuery()
	}

	if err := c.bq.Dataset(dataset).Table(table).Create(ctx, meta); err != nil {
		return c.wrapDDLError(err, "failed to create table", tableID)
	}

	c.logger.Info("table created", zap.String("table", tableID))
	return nil
}

// DeleteTable deletes a table.
func (c *Client) DeleteTable(ctx context.Context, dataset, table string) error {
	tableID := c.tableID(dataset, table)
	c.logger.Info("deleting table", zap.String("table", tableID))

	if err := c.bq.Dataset(dataset).Table(table).Delete(ctx); err != nil {
		return c.wrapDDLError(err, "failed to delete table", tableID)
	}

	c.logger.Info("table deleted", zap.String("table", tableID))
	return nil
}

// Schema returns the current schema of a table.
func (c *Client) Schema(ctx context.Context, dataset, table string) ([]FieldDef, error) {
	meta, err := c.bq.Dataset(dataset).Table(table).Metadata(ctx)
	if err != nil {
		return nil, c.wrapDDLError(err, "failed to read table metadata", c.tableID(dataset, table))
	}
	return DefsFromSchema(meta.Schema), nil
}

// LoadOptions controls LoadNDJSON. The zero value appends, ignores unknown
// fields, uses the destination table's schema, and waits for the job.
type LoadOptions struct {
	// Truncate overwrites the table instead of appending.
	Truncate bool
	// StrictSchema fails the load on fields absent from the schema instead of
	// ignoring them.
	StrictSchema bool
	// Autodetect asks BigQuery to infer the schema from the data.
	Autodetect bool
	// Schema supplies an explicit schema for the load. Setting it together
	// with Autodetect risks type inference conflicts; Autodetect wins and a
	// warning is logged.
	Schema []FieldDef
	// NoWait returns once the job is submitted instead of awaiting its
	// result.
	NoWait bool
}

// LoadNDJSON loads a newline-delimited JSON blob from Cloud Storage into a
// table. The executing account needs read access on the blob, edit on the
// dataset, and the BigQuery Jobs User role on the project. The blob's schema
// must match the destination table; gcs.Client.WriteNDJSON produces
// compatible blobs.
func (c *Client) LoadNDJSON(ctx context.Context, bucket, object, dataset, table string, opts *LoadOptions) error {
	if opts == nil {
		opts = &LoadOptions{}
	}
	sourceURI := gcs.URI(bucket, object)
	tableID := c.tableID(dataset, table)
	c.logger.Info("loading into bigquery",
		zap.String("source", sourceURI),
		zap.String("table", tableID))

	if opts.Autodetect && len(opts.Schema) > 0 {
		c.logger.Warn("autodetect enabled while a schema is also specified; consider disabling autodetect to avoid type inference conflicts")
	}

	ref := bigquery.NewGCSReference(sourceURI)
	ref.SourceFormat = bigquery.JSON
	ref.AutoDetect = opts.Autodetect
	ref.IgnoreUnknownValues = !opts.StrictSchema
	if len(opts.Schema) > 0 {
		ref.Schema = SchemaFromDefs(opts.Schema)
	}

	loader := c.bq.Dataset(dataset).Table(table).LoaderFrom(ref)
	if opts.Truncate {
		loader.WriteDisposition = bigquery.WriteTruncate
	} else {
		loader.WriteDisposition = bigquery.WriteAppend
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to start load job")
	}
	if opts.NoWait {
		c.logger.Info("load job submitted, not awaiting result", zap.String("job_id", job.ID()))
		return nil
	}

	if err := c.awaitJob(ctx, job); err != nil {
		return err
	}
	c.logger.Info("load complete",
		zap.String("source", sourceURI),
		zap.String("table", tableID))
	return nil
}

// CreateAndLoadOptions controls CreateAndLoad.
type CreateAndLoadOptions struct {
	LoadOptions
	// Partitioning configures time partitioning on the created table.
	Partitioning *TimePartitioning
	// GenerateSchema derives the schema by autodetect-loading the blob into a
	// temporary table, reading its schema back, and dropping it.
	GenerateSchema bool
	// AlreadyExistsOK proceeds with the load when the table already exists.
	AlreadyExistsOK bool
}

// CreateAndLoad creates a table and loads an NDJSON blob into it in one call.
// One of Schema, Autodetect or GenerateSchema must be set so the new table
// ends up with a usable schema.
func (c *Client) CreateAndLoad(ctx context.Context, bucket, object, dataset, table string, opts *CreateAndLoadOptions) error {
	if opts == nil {
		opts = &CreateAndLoadOptions{}
	}
	if len(opts.Schema) == 0 && !opts.Autodetect && !opts.GenerateSchema {
		return gcperrors.New(gcperrors.ErrorTypeConfig,
			"no schema specified and schema inference disabled; set Schema, Autodetect or GenerateSchema")
	}

	if opts.GenerateSchema {
		schema, err := c.generateSchema(ctx, bucket, object, dataset)
		if err != nil {
			return err
		}
		opts.Schema = schema
	}

	err := c.CreateTable(ctx, dataset, table, opts.Schema, opts.Partitioning)
	if err != nil {
		if !opts.AlreadyExistsOK || !gcperrors.IsType(err, gcperrors.ErrorTypeConflict) {
			return err
		}
		c.logger.Info("table already exists, proceeding with load",
			zap.String("table", c.tableID(dataset, table)))
	}

	return c.LoadNDJSON(ctx, bucket, object, dataset, table, &opts.LoadOptions)
}

// generateSchema autodetect-loads the blob into a temporary table, reads the
// inferred schema, and drops the table.
func (c *Client) generateSchema(ctx context.Context, bucket, object, dataset string) ([]FieldDef, error) {
	c.logger.Info("generating schema via temporary autodetect table",
		zap.String("source", gcs.URI(bucket, object)))

	if err := c.LoadNDJSON(ctx, bucket, object, dataset, tempAutodetectTable, &LoadOptions{
		Autodetect:   true,
		StrictSchema: true,
	}); err != nil {
		return nil, err
	}
	schema, err := c.Schema(ctx, dataset, tempAutodetectTable)
	if err != nil {
		return nil, err
	}
	if err := c.DeleteTable(ctx, dataset, tempAutodetectTable); err != nil {
		return nil, err
	}
	return schema, nil
}

// Query runs a SQL query and returns the result rows as maps keyed by column
// name. The executing account needs the BigQuery Jobs User role on the
// project and at least Data Viewer on the queried datasets.
func (c *Client) Query(ctx context.Context, sql string) ([]map[string]bigquery.Value, error) {
	c.logger.Debug("sending query", zap.String("sql", sql))

	it, err := c.bq.Query(sql).Read(ctx)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to run query")
	}

	var rows []map[string]bigquery.Value
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeData, "failed to iterate query results")
		}
		rows = append(rows, row)
	}

	c.logger.Info("query complete", zap.Int("rows", len(rows)))
	return rows, nil
}

// StartQuery submits a query without awaiting its result.
func (c *Client) StartQuery(ctx context.Context, sql string) (*bigquery.Job, error) {
	c.logger.Debug("submitting query", zap.String("sql", sql))

	job, err := c.bq.Query(sql).Run(ctx)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to submit query")
	}
	return job, nil
}

// awaitJob waits for a job and surfaces per-row load errors, which the API
// only exposes through the job status.
func (c *Client) awaitJob(ctx context.Context, job *bigquery.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed while awaiting job")
	}
	if err := status.Err(); err != nil {
		wrapped := gcperrors.Wrap(err, gcperrors.ErrorTypeData, "load job failed")
		for i, jobErr := range status.Errors {
			wrapped = wrapped.WithDetail(fmt.Sprintf("error_%d", i), jobErr.Message)
		}
		c.logger.Error("load job failed", zap.Any("errors", status.Errors))
		return wrapped
	}
	return nil
}

func (c *Client) tableID(dataset, table string) string {
	return fmt.Sprintf("%s.%s.%s", c.bq.Project(), dataset, table)
}

func (c *Client) wrapDDLError(err error, message, resource string) *gcperrors.Error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden:
			return gcperrors.Wrap(err, gcperrors.ErrorTypePermission,
				fmt.Sprintf("%s: add the BigQuery User role at "+
					"https://console.cloud.google.com/iam-admin/iam?project=%s", message, c.bq.Project())).
				WithDetail("resource", resource)
		case http.StatusNotFound:
			return gcperrors.Wrap(err, gcperrors.ErrorTypeNotFound, message).
				WithDetail("resource", resource)
		case http.StatusConflict:
			return gcperrors.Wrap(err, gcperrors.ErrorTypeConflict, message).
				WithDetail("resource", resource)
		}
	}
	return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, message).
		WithDetail("resource", resource)
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
