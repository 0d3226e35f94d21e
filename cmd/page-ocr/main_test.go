package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/services"
)

func Test_WriteRunResult(t *testing.T) {
	summary := services.Summary{RunID: "run-1", Total: 4, Succeeded: 2, Failed: 1}

	t.Run("success", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeRunResult(rec, models.ProcessResponse{Status: "success", Retried: 1}, summary, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got models.ProcessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "success", got.Status)
		assert.Equal(t, 1, got.Retried)
		assert.Equal(t, 2, got.Succeeded)
	})

	t.Run("aborted run keeps its counts", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeRunResult(rec, models.ProcessResponse{Status: "success"}, summary, errors.New("store unavailable"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var got models.ProcessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "aborted", got.Status)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, 4, got.Total)
		assert.Equal(t, 2, got.Succeeded)
		assert.Equal(t, 1, got.Failed)
	})
}
