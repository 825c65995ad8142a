// internal/services/activity/recorder.go
package activity

import (
	"context"
	"time"

	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/store"

	"github.com/google/uuid"
)

// Indexer mirrors activity documents into a search index.
// *database.ElasticsearchClient satisfies it.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

type Recorder struct {
	indexer Indexer
	index   string
	logger  logger.Logger
}

// NewRecorder returns a Recorder. indexer may be nil, in which case entries
// are only persisted.
func NewRecorder(indexer Indexer, index string, log logger.Logger) *Recorder {
	return &Recorder{
		indexer: indexer,
		index:   index,
		logger:  log.WithFields(map[string]interface{}{"component": "activity"}),
	}
}

// Persist writes entries inside tx and returns the stored rows.
func (r *Recorder) Persist(ctx context.Context, tx store.ActivityLogs, entries []Entry, at time.Time) ([]*models.ActivityLog, error) {
	logs := make([]*models.ActivityLog, 0, len(entries))
	for _, e := range entries {
		l := &models.ActivityLog{
			ID:         uuid.New().String(),
			UserID:     e.UserID,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Details:    e.Details,
			CreatedAt:  at,
		}
		if err := tx.InsertActivity(ctx, l); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// Publish indexes committed logs. Failures are logged and dropped; the
// database row stays the source of truth.
func (r *Recorder) Publish(ctx context.Context, logs []*models.ActivityLog) {
	if r == nil || r.indexer == nil {
		return
	}
	for _, l := range logs {
		if err := r.indexer.IndexDocument(ctx, r.index, l.ID, l); err != nil {
			r.logger.Warn("failed to index activity", map[string]interface{}{
				"activityId": l.ID,
				"action":     l.Action,
				"error":      err,
			})
		}
	}
}
