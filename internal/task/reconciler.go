package task

import (
	"context"
	"net/http"
	"regexp"

	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/pkg/types"
)

var tagPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Reconciler stores webhook-delivered task results under the tag the task
// was posted with, completing the tag-threading contract.
type Reconciler struct {
	manager *cachemanager.Manager
	logger  *observability.Logger
}

// NewReconciler creates a reconciler over the shared cache manager.
func NewReconciler(manager *cachemanager.Manager, logger *observability.Logger) *Reconciler {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Reconciler{manager: manager, logger: logger}
}

// Reconcile persists a delivered payload under the tag. The tag must be a
// cache key previously handed to the provider; anything else is rejected
// before touching storage.
func (r *Reconciler) Reconcile(ctx context.Context, client, tag, endpoint string, payload []byte) error {
	if !tagPattern.MatchString(tag) {
		return &types.InvalidArgumentError{Field: "tag", Reason: "must be a 64-char lowercase hex cache key"}
	}
	if endpoint == "" {
		return &types.InvalidArgumentError{Field: "endpoint", Reason: "must not be empty"}
	}

	err := r.manager.StoreResponse(ctx, types.StoreParams{
		Client:       client,
		Key:          tag,
		Endpoint:     endpoint,
		Method:       http.MethodPost,
		ResponseBody: payload,
		StatusCode:   http.StatusOK,
		ResponseSize: int64(len(payload)),
		Credits:      1,
	})
	if err != nil {
		return err
	}

	r.logger.Info("task result reconciled",
		"client", client,
		"tag", tag,
		"endpoint", endpoint,
		"payload_bytes", len(payload),
	)
	return nil
}
