package base_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCheckOptionsAdd(t *testing.T) {
	okFunc := func(ctx context.Context) error { return nil }

	testCases := []struct {
		testName      string
		options       *base.CheckOptions
		expectedError error
	}{
		{
			testName:      "nil options",
			expectedError: base.ErrOptionsIsNil,
		},
		{
			testName:      "empty name",
			options:       &base.CheckOptions{CheckFunc: okFunc},
			expectedError: base.ErrEmptyOptionsName,
		},
		{
			testName:      "nil func",
			options:       &base.CheckOptions{Name: "check"},
			expectedError: base.ErrFuncIsNil,
		},
		{
			testName:      "conflict",
			options:       &base.CheckOptions{Name: "existing", CheckFunc: okFunc},
			expectedError: base.ErrConflictName,
		},
		{
			testName: "success",
			options:  &base.CheckOptions{Name: "check", CheckFunc: okFunc},
		},
	}

	for _, tt := range testCases {
		tt := tt
		t.Run(tt.testName, func(t *testing.T) {
			checks := base.NewMapCheckOptions()
			require.NoError(t, checks.Add(&base.CheckOptions{Name: "existing", CheckFunc: okFunc}))

			err := checks.Add(tt.options)
			assert.ErrorIs(t, err, tt.expectedError)
		})
	}
}

func TestCheck(t *testing.T) {
	errDown := errors.New("down")
	ctx := context.Background()

	checks := base.NewMapCheckOptions()
	require.NoError(t, checks.Check(ctx))

	require.NoError(t, checks.Add(&base.CheckOptions{
		Name:      "A_OK",
		CheckFunc: func(ctx context.Context) error { return nil },
	}))
	require.NoError(t, checks.Check(ctx))

	other := base.NewMapCheckOptions()
	require.NoError(t, other.Add(&base.CheckOptions{
		Name:      "B_DOWN",
		CheckFunc: func(ctx context.Context) error { return errDown },
	}))
	require.NoError(t, checks.Append(other))

	err := checks.Check(ctx)
	require.ErrorIs(t, err, errDown)

	var checkErr *base.CheckError
	require.True(t, errors.As(err, &checkErr))
	assert.Equal(t, "B_DOWN", checkErr.Name)
}
