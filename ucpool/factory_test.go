package ucpool

import (
	"context"
	"testing"
	"time"

	gomock "github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryCreate(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	errRefused := errors.New("connection refused")

	testCases := []struct {
		testName      string
		prepare       func(ctrl *gomock.Controller, connector *MockConnector)
		expectedCause error
	}{
		{
			testName: "success",
			prepare: func(ctrl *gomock.Controller, connector *MockConnector) {
				connector.EXPECT().Connect(gomock.Any()).Return(NewMockConn(ctrl), nil)
			},
		},
		{
			testName: "driver error",
			prepare: func(ctrl *gomock.Controller, connector *MockConnector) {
				connector.EXPECT().Connect(gomock.Any()).Return(nil, errRefused)
			},
			expectedCause: errRefused,
		},
		{
			testName: "nil connection",
			prepare: func(ctrl *gomock.Controller, connector *MockConnector) {
				connector.EXPECT().Connect(gomock.Any()).Return(nil, nil)
			},
			expectedCause: errNilConn,
		},
	}

	for _, tt := range testCases {
		tt := tt
		t.Run(tt.testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			connector := NewMockConnector(ctrl)
			tt.prepare(ctrl, connector)

			f := &factory{connector: connector, now: func() time.Time { return now }}
			pc, err := f.create(context.Background())

			if tt.expectedCause != nil {
				var createErr *ConnectionCreateError
				require.True(t, errors.As(err, &createErr))
				assert.Equal(t, tt.expectedCause, createErr.Err)
				assert.Nil(t, pc)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, stateActive, pc.state)
			assert.Equal(t, now, pc.createdAt)
			assert.Equal(t, now, pc.lastUsedAt)
			assert.NotEqual(t, uuid.Nil, pc.id)
		})
	}
}

func TestPoolWithMockedDriver(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	raw := NewMockConn(ctrl)
	raw.EXPECT().Close().Return(errors.New("already gone"))

	connector := NewMockConnector(ctrl)
	connector.EXPECT().Connect(gomock.Any()).Return(raw, nil).Times(1)
	connector.EXPECT().IsErrBadConn(gomock.Any()).Return(true)

	p, err := New(context.Background(), connector, testConfig())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	// A mocked conn does not implement driver.Validator, so the pool
	// lends it out again without validation.
	require.NoError(t, c.Close())
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Error(t, c.ReportError(errors.New("eof")))
	// Close errors of the driver are logged, the release still succeeds.
	require.NoError(t, c.Close())

	s := p.Stats()
	assert.Equal(t, 0, s.Open)
	assert.EqualValues(t, 1, s.InvalidClosed)
	require.NoError(t, p.Close())
}
