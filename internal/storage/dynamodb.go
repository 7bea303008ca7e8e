// Package storage provides persistence implementations for directory sync.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/dirsync/internal/sync"
)

// dateLayout is the layout of calendar dates stored on target items.
const dateLayout = "2006-01-02"

// Attribute names of a target item.
const (
	attrAccountEnabled = "account_enabled"
	attrCompanyName    = "company_name"
	attrDepartment     = "department"
	attrDisplayName    = "display_name"
	attrEmail          = "email"
	attrEmployeeID     = "employee_id"
	attrEmployeeType   = "employee_type"
	attrEndDate        = "end_date"
	attrGivenName      = "given_name"
	attrHireDate       = "hire_date"
	attrJobTitle       = "job_title"
	attrLastError      = "last_error"
	attrLastSyncAt     = "last_sync_at"
	attrManagerID      = "manager_id"
	attrOfficeLocation = "office_location"
	attrPhone          = "phone"
	attrRemoteID       = "remote_id"
	attrStartDate      = "start_date"
	attrStateUpdatedAt = "state_updated_at"
	attrSurname        = "surname"
	attrSyncEnabled    = "sync_enabled"
	attrSyncStatus     = "sync_status"
	attrTargetID       = "target_id"
)

// DynamoDBTargetStore reads targets and writes their sync state in DynamoDB.
// The table is keyed by target_id and carries a global secondary index on sync_status.
type DynamoDBTargetStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// indexName is the name of the sync status GSI.
	indexName string

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDynamoDBTargetStore creates a new DynamoDB-backed target store.
func NewDynamoDBTargetStore(client DynamoDBAPI, tableName string, indexName string) (*DynamoDBTargetStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	if indexName == "" {
		return nil, errors.New("index name is required")
	}

	return &DynamoDBTargetStore{
		client:    client,
		indexName: indexName,
		tableName: tableName,
	}, nil
}

// EnabledTargets returns every target with sync enabled.
func (s *DynamoDBTargetStore) EnabledTargets(ctx context.Context) ([]sync.Target, error) {
	var (
		startKey map[string]types.AttributeValue
		targets  []sync.Target
	)
	for {
		output, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("#enabled = :enabled"),
			ExpressionAttributeNames: map[string]string{
				"#enabled": attrSyncEnabled,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":enabled": &types.AttributeValueMemberBOOL{Value: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scanning DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			t, err := parseTarget(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			targets = append(targets, t)
		}

		if len(output.LastEvaluatedKey) == 0 {
			return targets, nil
		}
		startKey = output.LastEvaluatedKey
	}
}

// SaveState replaces the sync state of a target. It returns sync.ErrTargetNotFound if the target does not exist.
func (s *DynamoDBTargetStore) SaveState(ctx context.Context, id string, state sync.State) error {
	return s.updateState(ctx, id, state, nil)
}

// SaveSyncEnabled sets the per-target sync flag and replaces the sync state in a single write.
// It returns sync.ErrTargetNotFound if the target does not exist.
func (s *DynamoDBTargetStore) SaveSyncEnabled(ctx context.Context, id string, enabled bool, state sync.State) error {
	return s.updateState(ctx, id, state, &enabled)
}

// updateState writes state and, when enabled is non-nil, the sync flag.
func (s *DynamoDBTargetStore) updateState(ctx context.Context, id string, state sync.State, enabled *bool) error {
	if id == "" {
		return errors.New("target ID is required")
	}
	if state.Status == "" {
		return errors.New("status is required")
	}

	expr := "SET #status = :status, #remote = :remote, #error = :error, #synced = :synced, #updated = :updated"
	names := map[string]string{
		"#error":   attrLastError,
		"#id":      attrTargetID,
		"#remote":  attrRemoteID,
		"#status":  attrSyncStatus,
		"#synced":  attrLastSyncAt,
		"#updated": attrStateUpdatedAt,
	}
	values := map[string]types.AttributeValue{
		":error":   &types.AttributeValueMemberS{Value: state.LastError},
		":remote":  &types.AttributeValueMemberS{Value: state.RemoteID},
		":status":  &types.AttributeValueMemberS{Value: string(state.Status)},
		":synced":  &types.AttributeValueMemberS{Value: formatTime(state.LastSyncAt)},
		":updated": &types.AttributeValueMemberS{Value: formatTime(state.UpdatedAt)},
	}
	if enabled != nil {
		expr += ", #enabled = :enabled"
		names["#enabled"] = attrSyncEnabled
		values[":enabled"] = &types.AttributeValueMemberBOOL{Value: *enabled}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrTargetID: &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("target %s: %w", id, sync.ErrTargetNotFound)
		}
		return fmt.Errorf("updating item in DynamoDB: %w", err)
	}

	return nil
}

// Target returns the target with the given ID, or sync.ErrTargetNotFound.
func (s *DynamoDBTargetStore) Target(ctx context.Context, id string) (*sync.Target, error) {
	if id == "" {
		return nil, errors.New("target ID is required")
	}

	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrTargetID: &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if output.Item == nil {
		return nil, fmt.Errorf("target %s: %w", id, sync.ErrTargetNotFound)
	}

	t, err := parseTarget(output.Item)
	if err != nil {
		return nil, fmt.Errorf("parsing item: %w", err)
	}
	return &t, nil
}

// TargetsByStatus returns every target with the given status.
func (s *DynamoDBTargetStore) TargetsByStatus(ctx context.Context, status sync.Status) ([]sync.Target, error) {
	if status == "" {
		return nil, errors.New("status is required")
	}

	var (
		startKey map[string]types.AttributeValue
		targets  []sync.Target
	)
	for {
		output, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(s.indexName),
			ExclusiveStartKey:      startKey,
			KeyConditionExpression: aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{
				"#status": attrSyncStatus,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			t, err := parseTarget(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			targets = append(targets, t)
		}

		if len(output.LastEvaluatedKey) == 0 {
			return targets, nil
		}
		startKey = output.LastEvaluatedKey
	}
}

// parseTarget converts a DynamoDB item into a target.
func parseTarget(item map[string]types.AttributeValue) (sync.Target, error) {
	t := sync.Target{
		AccountEnabled: boolAttr(item, attrAccountEnabled),
		CompanyName:    stringAttr(item, attrCompanyName),
		Department:     stringAttr(item, attrDepartment),
		DisplayName:    stringAttr(item, attrDisplayName),
		Email:          stringAttr(item, attrEmail),
		EmployeeID:     stringAttr(item, attrEmployeeID),
		EmployeeType:   stringAttr(item, attrEmployeeType),
		GivenName:      stringAttr(item, attrGivenName),
		ID:             stringAttr(item, attrTargetID),
		JobTitle:       stringAttr(item, attrJobTitle),
		ManagerID:      stringAttr(item, attrManagerID),
		OfficeLocation: stringAttr(item, attrOfficeLocation),
		Phone:          stringAttr(item, attrPhone),
		State: sync.State{
			LastError: stringAttr(item, attrLastError),
			RemoteID:  stringAttr(item, attrRemoteID),
			Status:    sync.Status(stringAttr(item, attrSyncStatus)),
		},
		Surname:     stringAttr(item, attrSurname),
		SyncEnabled: boolAttr(item, attrSyncEnabled),
	}
	if t.ID == "" {
		return t, errors.New("item has no target_id")
	}
	if t.State.Status == "" {
		t.State.Status = sync.StatusPending
	}

	var err error
	dates := []struct {
		dst    *time.Time
		name   string
		layout string
	}{
		{dst: &t.EndDate, name: attrEndDate, layout: dateLayout},
		{dst: &t.HireDate, name: attrHireDate, layout: dateLayout},
		{dst: &t.StartDate, name: attrStartDate, layout: dateLayout},
		{dst: &t.State.LastSyncAt, name: attrLastSyncAt, layout: time.RFC3339},
		{dst: &t.State.UpdatedAt, name: attrStateUpdatedAt, layout: time.RFC3339},
	}
	for _, d := range dates {
		if *d.dst, err = parseTimeAttr(item, d.name, d.layout); err != nil {
			return t, err
		}
	}

	return t, nil
}

// stringAttr returns the string attribute name, or empty if absent.
func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// boolAttr returns the boolean attribute name, or false if absent.
func boolAttr(item map[string]types.AttributeValue, name string) bool {
	if v, ok := item[name].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}

// parseTimeAttr parses the string attribute name with layout. Absent or empty values yield the zero time.
func parseTimeAttr(item map[string]types.AttributeValue, name string, layout string) (time.Time, error) {
	raw := stringAttr(item, name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	return t, nil
}

// formatTime formats t as RFC 3339 in UTC, or empty for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// DynamoDBAPI defines the DynamoDB operations used by the target store.
type DynamoDBAPI interface {
	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)

	// Scan reads every item of a table, optionally filtered.
	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)

	// UpdateItem modifies attributes of an existing item.
	UpdateItem(
		ctx context.Context,
		params *dynamodb.UpdateItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.UpdateItemOutput, error)
}
