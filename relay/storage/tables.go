package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/dahch/task-board-sync/domain"
)

// metaRowKey marks a partition that holds a snapshot, so an empty board is
// told apart from a board that was never saved.
const metaRowKey = "~snapshot"

// Tables stores one board per partition, one row per position in the
// collection. The RowKey is the zero-padded position and the task id is a
// plain column, so duplicate ids and ids with characters not allowed in keys
// survive a round trip.
type Tables struct {
	table *aztables.Client
	board string
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, table, board string) (*Tables, error) {
	if board == "" {
		return nil, errors.New("storage: board id is required")
	}
	if strings.ContainsAny(board, `/\#?`) {
		return nil, fmt.Errorf("storage: board id %q contains a character not allowed in a partition key", board)
	}
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(table), board: board}, nil
}

type taskEntity struct {
	aztables.Entity
	TaskID string `json:"TaskID"`
	Title  string `json:"Title"`
	Column string `json:"Column"`
	Order  int    `json:"Order"`
}

func (s *Tables) Load(ctx context.Context) ([]domain.Task, bool, error) {
	rows, found, err := s.list(ctx)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return tasksFromRows(rows), true, nil
}

// Save upserts every task and deletes rows for tasks no longer present.
func (s *Tables) Save(ctx context.Context, tasks []domain.Task) error {
	existing, _, err := s.list(ctx)
	if err != nil {
		return err
	}
	for i, t := range tasks {
		data, err := encodeEntity(s.board, i, t)
		if err != nil {
			return err
		}
		if _, err := s.table.UpsertEntity(ctx, data, nil); err != nil {
			return fmt.Errorf("upsert task %s at %d: %w", t.ID, i, err)
		}
	}
	for _, key := range staleRows(existing, len(tasks)) {
		if _, err := s.table.DeleteEntity(ctx, s.board, key, nil); err != nil {
			return fmt.Errorf("delete row %s: %w", key, err)
		}
	}
	meta, err := sonic.ConfigStd.Marshal(map[string]any{
		"PartitionKey": s.board,
		"RowKey":       metaRowKey,
		"Count":        len(tasks),
	})
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, meta, nil)
	return err
}

// list returns the task rows of the board and whether the meta row exists.
func (s *Tables) list(ctx context.Context) ([]taskEntity, bool, error) {
	filter := "PartitionKey eq " + quoteODataString(s.board)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows []taskEntity
	found := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, e := range resp.Entities {
			ent, err := decodeEntity(e)
			if err != nil {
				return nil, false, err
			}
			if ent.RowKey == metaRowKey {
				found = true
				continue
			}
			rows = append(rows, ent)
		}
	}
	return rows, found, nil
}

func encodeEntity(board string, order int, t domain.Task) ([]byte, error) {
	return sonic.ConfigStd.Marshal(map[string]any{
		"PartitionKey": board,
		"RowKey":       rowKey(order),
		"TaskID":       t.ID,
		"Title":        t.Title,
		"Column":       string(t.Column),
		"Order":        order,
	})
}

func decodeEntity(data []byte) (taskEntity, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return taskEntity{}, err
	}
	return ent, nil
}

func tasksFromRows(rows []taskEntity) []domain.Task {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Order < rows[j].Order })
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, domain.Task{ID: r.TaskID, Title: r.Title, Column: domain.Column(r.Column)})
	}
	return tasks
}

func rowKey(order int) string {
	return fmt.Sprintf("%08d", order)
}

// quoteODataString renders v as an OData string literal.
func quoteODataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// staleRows returns the row keys past the end of a collection of n tasks.
func staleRows(existing []taskEntity, n int) []string {
	keep := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		keep[rowKey(i)] = struct{}{}
	}
	var stale []string
	for _, r := range existing {
		if _, ok := keep[r.RowKey]; !ok {
			stale = append(stale, r.RowKey)
		}
	}
	return stale
}
