package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	bq "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/liamcoop/curation/warehouse"
)

func TestToSchema(t *testing.T) {
	fields := []warehouse.FieldSpec{
		{Name: "observation_id", Type: "integer", Mode: "required"},
		{Name: "value_as_string", Type: "STRING", Mode: "NULLABLE", Description: "free text"},
		{Name: "codes", Type: "string", Mode: "repeated"},
		{Name: "meta", Type: "record", Fields: []warehouse.FieldSpec{{Name: "source", Type: "string"}}},
	}

	schema := toSchema(fields)
	require.Len(t, schema, 4)

	assert.Equal(t, bq.FieldType("INTEGER"), schema[0].Type)
	assert.True(t, schema[0].Required)
	assert.False(t, schema[1].Required)
	assert.Equal(t, "free text", schema[1].Description)
	assert.True(t, schema[2].Repeated)
	require.Len(t, schema[3].Schema, 1)
	assert.Equal(t, "source", schema[3].Schema[0].Name)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"Deadline", context.DeadlineExceeded, true},
		{"Wrapped deadline", fmt.Errorf("waiting: %w", context.DeadlineExceeded), true},
		{"Rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"Server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"Quota reason", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, true},
		{"Quota message", errors.New("Exceeded rate limits: Quota exceeded for project"), true},
		{"Not found", &googleapi.Error{Code: http.StatusNotFound, Message: "Not found: Dataset"}, false},
		{"Plain error", errors.New("invalid credentials"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			infra := classify("query", tc.err)
			assert.Equal(t, "query", infra.Op)
			assert.Equal(t, tc.transient, infra.Transient)
			assert.ErrorIs(t, infra, tc.err)
			assert.Equal(t, tc.transient, warehouse.IsTransient(infra))
		})
	}
}

func TestJobErrors(t *testing.T) {
	t.Run("Error list", func(t *testing.T) {
		status := &bq.JobStatus{
			State: bq.Done,
			Errors: []*bq.Error{
				{Reason: "invalidQuery", Location: "query", Message: "Syntax error at [1:8]"},
				nil,
				{Reason: "invalid", Message: "second"},
			},
		}
		errs := jobErrors(status)
		require.Len(t, errs, 2)
		assert.Equal(t, warehouse.JobError{Reason: "invalidQuery", Location: "query", Message: "Syntax error at [1:8]"}, errs[0])
	})

	t.Run("Success", func(t *testing.T) {
		assert.Nil(t, jobErrors(&bq.JobStatus{State: bq.Done}))
	})

	t.Run("Unwaited job", func(t *testing.T) {
		assert.Nil(t, (&job{}).Errors())
	})
}
