package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "simulation_iterations", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"simulation_iterations"}, []string{"run_id", "idx"}).WillReturnResult(3)

	rows := [][]any{{"r", 0}, {"r", 1}, {"r", 2}}
	n, err := CopyFrom(context.Background(), mock, "simulation_iterations", []string{"run_id", "idx"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"valuation", "simulation_iterations"}, []string{"a"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "valuation.simulation_iterations", []string{"a"}, [][]any{{1}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"valuation", "simulation_iterations"}, []string{"a"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "valuation.simulation_iterations", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO valuation.simulation_iterations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"valuation.industry_multiples", `"valuation"."industry_multiples"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}
