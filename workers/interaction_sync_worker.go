package workers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
	"twinlink/services"
)

const interactionWorker = "interactions"

// InteractionRecorder is satisfied by *services.ConnectionService.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, in services.InteractionInput) (*models.Interaction, bool, error)
}

// RemoteInteraction is one entry of the chat service change feed.
type RemoteInteraction struct {
	ID           string                 `json:"id"`
	ConnectionID string                 `json:"connection_id"`
	ActorID      string                 `json:"actor_id"`
	Kind         models.InteractionKind `json:"kind"`
	Sentiment    float64                `json:"sentiment"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

type interactionChanges struct {
	Interactions []RemoteInteraction `json:"interactions"`
}

// InteractionSyncResult summarizes one poll.
type InteractionSyncResult struct {
	Received  int
	Recorded  int
	Duplicate int
	Rejected  int
	Failed    int
}

// InteractionSyncWorker polls the chat service and records interactions.
// Recording is idempotent on the remote id, so a window may be replayed.
type InteractionSyncWorker struct {
	recorder InteractionRecorder
	client   *syncClient
	path     string
	interval time.Duration
	since    time.Time
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Manager
}

func NewInteractionSyncWorker(recorder InteractionRecorder, baseURL, token string, httpClient *http.Client, interval time.Duration,
	clock clockwork.Clock, log *logger.Logger, m *metrics.Manager,
) *InteractionSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &InteractionSyncWorker{
		recorder: recorder,
		client:   &syncClient{baseURL: baseURL, token: token, httpClient: httpClient},
		path:     "/api/v1/public/interactions",
		interval: interval,
		since:    clock.Now().UTC().Add(-24 * time.Hour),
		clock:    clock,
		log:      log.With("worker", "InteractionSync"),
		metrics:  m,
	}
}

func (w *InteractionSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting interaction sync worker", "interval", w.interval)
	go w.run(ctx)
}

func (w *InteractionSyncWorker) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("interaction sync worker stopped")
			return
		case <-ticker.Chan():
			if _, err := w.PollOnce(ctx); err != nil {
				w.log.Error("interaction poll failed", "error", err)
			}
		}
	}
}

// PollOnce fetches changes since the last successful poll and records them.
// The cursor only advances when every item was either recorded or
// permanently rejected.
func (w *InteractionSyncWorker) PollOnce(ctx context.Context) (InteractionSyncResult, error) {
	var res InteractionSyncResult
	started := w.clock.Now().UTC()

	var changes interactionChanges
	if err := w.client.fetchSince(ctx, w.path, w.since, &changes); err != nil {
		w.metrics.RecordSyncError(interactionWorker)
		return res, err
	}
	res.Received = len(changes.Interactions)

	for _, ri := range changes.Interactions {
		_, created, err := w.recorder.RecordInteraction(ctx, services.InteractionInput{
			ConnectionID: ri.ConnectionID,
			ActorID:      ri.ActorID,
			Kind:         ri.Kind,
			Sentiment:    ri.Sentiment,
			ExternalID:   ri.ID,
			OccurredAt:   ri.OccurredAt,
		})
		switch {
		case err == nil && created:
			res.Recorded++
		case err == nil:
			res.Duplicate++
		case permanent(err):
			res.Rejected++
			w.log.Debug("interaction rejected", "externalID", ri.ID, "error", err)
		default:
			res.Failed++
			w.log.Warn("interaction record failed", "externalID", ri.ID, "error", err)
		}
	}

	if res.Failed > 0 {
		w.metrics.RecordSyncError(interactionWorker)
	} else {
		w.since = started
	}
	w.metrics.RecordSync(interactionWorker, res.Recorded)
	if res.Received > 0 {
		w.log.Info("interactions synced",
			"received", res.Received,
			"recorded", res.Recorded,
			"duplicate", res.Duplicate,
			"rejected", res.Rejected,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// permanent errors will not succeed on retry.
func permanent(err error) bool {
	return errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrInvalidTransition) ||
		errors.Is(err, services.ErrUnauthorized) ||
		errors.Is(err, services.ErrInvalidInput)
}
