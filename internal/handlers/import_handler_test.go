package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/importer"
	"github.com/ternarybob/colligo/internal/models"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte("<rss/>"), nil
}

type stubParser struct{}

func (stubParser) Parse(data []byte, sourceURL string) ([]models.JobPosting, error) {
	return nil, nil
}

func newTestImportHandler(runs *mockRunStorage) (*ImportHandler, *importer.Orchestrator) {
	logger := arbor.NewLogger()
	tracker := importer.NewTracker(runs, logger)
	orchestrator := importer.NewOrchestrator(
		stubFetcher{},
		stubParser{},
		&mockQueue{},
		tracker,
		importer.BatchPolicy{DefaultSize: 100},
		[]string{"https://example.com/feed"},
		logger,
	)
	return NewImportHandler(orchestrator, logger), orchestrator
}

func TestTriggerSourceHandlerAccepted(t *testing.T) {
	handler, orchestrator := newTestImportHandler(&mockRunStorage{})

	req := httptest.NewRequest("POST", "/api/import/trigger/source?url=https%3A%2F%2Fexample.com%2Ffeed", nil)
	rec := httptest.NewRecorder()
	handler.TriggerSourceHandler(rec, req)
	orchestrator.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":true`)
}

func TestTriggerSourceHandlerConflict(t *testing.T) {
	runs := &mockRunStorage{
		hasProcessingRunFunc: func(ctx context.Context, sourceURL string) (bool, error) {
			return true, nil
		},
	}
	handler, _ := newTestImportHandler(runs)

	req := httptest.NewRequest("POST", "/api/import/trigger/source?url=https%3A%2F%2Fexample.com%2Ffeed", nil)
	rec := httptest.NewRecorder()
	handler.TriggerSourceHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":false`)
}

func TestTriggerSourceHandlerMissingURL(t *testing.T) {
	handler, _ := newTestImportHandler(&mockRunStorage{})

	req := httptest.NewRequest("POST", "/api/import/trigger/source", nil)
	rec := httptest.NewRecorder()
	handler.TriggerSourceHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSourceHandlerRequiresPost(t *testing.T) {
	handler, _ := newTestImportHandler(&mockRunStorage{})

	req := httptest.NewRequest("GET", "/api/import/trigger/source?url=x", nil)
	rec := httptest.NewRecorder()
	handler.TriggerSourceHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggerAllHandler(t *testing.T) {
	handler, orchestrator := newTestImportHandler(&mockRunStorage{})

	req := httptest.NewRequest("POST", "/api/import/trigger", nil)
	rec := httptest.NewRecorder()
	handler.TriggerAllHandler(rec, req)
	orchestrator.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scheduled":1`)
}
