package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/pkg/config"
	"github.com/nl2sql-eval/backend/pkg/logger"
	"github.com/nl2sql-eval/backend/pkg/retry"
)

// Athena error category for problems in the submitted statement.
const athenaUserErrorCategory = 2

type athenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type AthenaEngine struct {
	client  athenaAPI
	cfg     config.AthenaConfig
	backoff retry.Backoff
}

func NewAthenaEngine(ctx context.Context, cfg config.AthenaConfig) (*AthenaEngine, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		return nil, fmt.Errorf("athena region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := athena.NewFromConfig(awsCfg, func(o *athena.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	logger.Info("Athena engine initialized",
		zap.String("region", region),
		zap.String("workgroup", cfg.Workgroup),
		zap.String("catalog", cfg.Catalog),
	)

	return newAthenaEngine(client, cfg), nil
}

func newAthenaEngine(client athenaAPI, cfg config.AthenaConfig) *AthenaEngine {
	backoff := retry.DefaultBackoff()
	if cfg.PollInitialMS > 0 {
		backoff.InitialDelay = time.Duration(cfg.PollInitialMS) * time.Millisecond
	}
	if cfg.PollMaxMS > 0 {
		backoff.MaxDelay = time.Duration(cfg.PollMaxMS) * time.Millisecond
	}
	backoff.Logger = logger.Named("athena")

	return &AthenaEngine{client: client, cfg: cfg, backoff: backoff}
}

func (a *AthenaEngine) Name() string {
	return "athena"
}

func (a *AthenaEngine) Run(ctx context.Context, sql, database string) (*Table, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(database),
		},
	}
	if a.cfg.Catalog != "" {
		input.QueryExecutionContext.Catalog = aws.String(a.cfg.Catalog)
	}
	if a.cfg.Workgroup != "" {
		input.WorkGroup = aws.String(a.cfg.Workgroup)
	}
	if a.cfg.OutputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{
			OutputLocation: aws.String(a.cfg.OutputLocation),
		}
	}

	started, err := a.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, apiError("start query execution", err)
	}
	executionID := aws.ToString(started.QueryExecutionId)

	if err := a.wait(ctx, executionID); err != nil {
		if ctx.Err() != nil {
			a.stop(executionID)
		}
		return nil, err
	}

	return a.results(ctx, executionID)
}

func (a *AthenaEngine) wait(ctx context.Context, executionID string) error {
	return retry.Until(ctx, a.backoff, func(ctx context.Context) (bool, error) {
		out, err := a.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return false, apiError("get query execution", err)
		}
		if out.QueryExecution == nil || out.QueryExecution.Status == nil {
			return false, nil
		}

		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return true, nil
		case types.QueryExecutionStateFailed:
			return false, executionFailure(status)
		case types.QueryExecutionStateCancelled:
			return false, fmt.Errorf("query execution %s was cancelled", executionID)
		}
		return false, nil
	})
}

func (a *AthenaEngine) stop(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		logger.Warn("Failed to stop query execution", zap.String("execution_id", executionID), zap.Error(err))
	}
}

func (a *AthenaEngine) results(ctx context.Context, executionID string) (*Table, error) {
	paginator := athena.NewGetQueryResultsPaginator(a.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
	})

	table := &Table{Rows: [][]any{}}
	first := true
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apiError("get query results", err)
		}
		if page.ResultSet == nil {
			break
		}

		rows := page.ResultSet.Rows
		if first {
			if meta := page.ResultSet.ResultSetMetadata; meta != nil {
				for _, info := range meta.ColumnInfo {
					typ := aws.ToString(info.Type)
					table.Columns = append(table.Columns, Column{
						Name: aws.ToString(info.Name),
						Type: typ,
						Kind: KindOf(typ),
					})
				}
			}
			// The first row of the first page repeats the column names.
			if len(rows) > 0 {
				rows = rows[1:]
			}
			first = false
		}

		for _, row := range rows {
			if a.cfg.MaxRows > 0 && len(table.Rows) >= a.cfg.MaxRows {
				logger.Warn("Truncated query result", zap.String("execution_id", executionID), zap.Int("max_rows", a.cfg.MaxRows))
				return table, nil
			}
			table.Rows = append(table.Rows, convertRow(table.Columns, row.Data))
		}
	}

	return table, nil
}

func convertRow(columns []Column, data []types.Datum) []any {
	out := make([]any, len(columns))
	for i := range columns {
		if i >= len(data) || data[i].VarCharValue == nil {
			continue
		}
		out[i] = convertDatum(columns[i].Kind, *data[i].VarCharValue)
	}
	return out
}

// convertDatum turns Athena's string-encoded cell into the Table cell type.
// Values that do not parse stay strings.
func convertDatum(kind Kind, raw string) any {
	switch kind {
	case KindNumber:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case KindBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func executionFailure(status *types.QueryExecutionStatus) error {
	reason := aws.ToString(status.StateChangeReason)
	if status.AthenaError != nil {
		if msg := aws.ToString(status.AthenaError.ErrorMessage); msg != "" {
			reason = msg
		}
		if aws.ToInt32(status.AthenaError.ErrorCategory) == athenaUserErrorCategory {
			return &StatementError{Message: reason}
		}
	}
	if reason == "" {
		reason = "query execution failed"
	}
	return errors.New(reason)
}

func apiError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "InvalidRequestException" {
			return &StatementError{Message: apiErr.ErrorMessage()}
		}
		return fmt.Errorf("%s: %s: %s", op, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
