package mission

import (
	"context"
	"fmt"

	"escorte/pkg/requestcontext"
)

// numberGenerator issues human-readable order numbers of the form
// PREFIX-YYYY-NNNNN, where NNNNN is a per-year sequence derived from the
// count of orders already issued that year. Two concurrent creates can draw
// the same candidate; the unique index on number rejects the loser and the
// service retries with a fresh draw.
type numberGenerator struct {
	prefix string
	store  Store
}

func (g *numberGenerator) next(ctx context.Context, attempt int) (string, error) {
	year := requestcontext.Now(ctx).Year()
	yearPrefix := fmt.Sprintf("%s-%d-", g.prefix, year)
	n, err := g.store.CountByNumberPrefix(ctx, yearPrefix)
	if err != nil {
		return "", err
	}
	// The sequence starts at 00001. Skip ahead by the attempt index so a
	// retry after a collision does not redraw the exact number that just lost.
	return fmt.Sprintf("%s%05d", yearPrefix, n+attempt+1), nil
}
