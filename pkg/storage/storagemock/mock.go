package storagemock

import (
	"context"

	"github.com/smdmonitor/smdmonitor/pkg/storage"
	"github.com/smdmonitor/smdmonitor/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetGridUpdates(ctx context.Context, r types.DateRange) ([]types.RawRow, error) {
	args := m.Called(ctx, r)
	if len(args) > 0 {
		rows, _ := args.Get(0).([]types.RawRow)
		return rows, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetDateBounds(ctx context.Context) (types.DateRange, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.DateRange), args.Error(1)
	}
	return types.DateRange{}, nil
}

func (m *MockDatabase) InsertGridUpdates(ctx context.Context, rows []types.RawRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
