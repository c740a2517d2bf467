package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/novotx/elsa-core/pkg/models"
)

// bookmarkGrain serializes the index mutations of one hash. Different hashes never block each
// other.
type bookmarkGrain struct {
	runtime *Runtime
	hash    string
}

func newBookmarkGrain(r *Runtime, hash string) *bookmarkGrain {
	return &bookmarkGrain{runtime: r, hash: hash}
}

func (g *bookmarkGrain) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case ResolveBookmarksRequest:
		return g.resolve(ctx, m)
	case StoreBookmarksRequest:
		return g.store(ctx, m)
	case RemoveBookmarksByWorkflowRequest:
		return g.remove(ctx, m)
	default:
		return nil, fmt.Errorf("%s cannot handle %T", BookmarkGrainKind, msg)
	}
}

func (g *bookmarkGrain) resolve(ctx context.Context, m ResolveBookmarksRequest) (ResolveBookmarksResponse, error) {
	stored, err := g.runtime.store.BookmarkRepository().FindByHash(ctx, g.hash)
	if err != nil {
		return ResolveBookmarksResponse{}, err
	}

	matches := make([]*models.StoredBookmark, 0, len(stored))

	for _, b := range stored {
		if m.ActivityTypeName != "" && b.ActivityTypeName != m.ActivityTypeName {
			continue
		}

		if m.CorrelationID != "" && b.CorrelationID != m.CorrelationID {
			continue
		}

		matches = append(matches, b)
	}

	g.runtime.metrics.BookmarkOperation("resolve", 1)

	return ResolveBookmarksResponse{Bookmarks: matches}, nil
}

func (g *bookmarkGrain) store(ctx context.Context, m StoreBookmarksRequest) (Ack, error) {
	now := time.Now().UTC()
	stored := make([]*models.StoredBookmark, 0, len(m.Bookmarks))

	for _, b := range m.Bookmarks {
		createdAt := b.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		stored = append(stored, &models.StoredBookmark{
			BookmarkID:         b.ID,
			Hash:               g.hash,
			ActivityTypeName:   b.Name,
			WorkflowInstanceID: m.InstanceID,
			CorrelationID:      m.CorrelationID,
			CreatedAt:          createdAt,
		})
	}

	err := g.runtime.store.BookmarkRepository().Save(ctx, stored)
	if err != nil {
		return Ack{}, err
	}

	g.runtime.metrics.BookmarkOperation("store", len(stored))

	return Ack{}, nil
}

func (g *bookmarkGrain) remove(ctx context.Context, m RemoveBookmarksByWorkflowRequest) (Ack, error) {
	err := g.runtime.store.BookmarkRepository().RemoveByInstance(ctx, g.hash, m.InstanceID, m.BookmarkIDs)
	if err != nil {
		return Ack{}, err
	}

	g.runtime.metrics.BookmarkOperation("remove", max(len(m.BookmarkIDs), 1))

	return Ack{}, nil
}
