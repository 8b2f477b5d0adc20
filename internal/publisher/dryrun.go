package publisher

import (
	"context"
	"strconv"
	"sync/atomic"

	"ddalti/internal/domain"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
)

// DryRunPublisher logs the rendered post instead of sending it.
type DryRunPublisher struct {
	logger *zerolog.Logger
	seq    atomic.Int64
}

var _ domain.Publisher = (*DryRunPublisher)(nil)

func NewDryRunPublisher(logger *zerolog.Logger) *DryRunPublisher {
	return &DryRunPublisher{logger: orNop(logger)}
}

func (p *DryRunPublisher) Platform() string { return models.PlatformDryRun }

func (p *DryRunPublisher) Publish(_ context.Context, item *models.QueueItem) models.PostResult {
	n := p.seq.Add(1)
	p.logger.Info().
		Str("item_id", item.ID).
		Str("image", item.ImagePath).
		Str("text", RenderText(item)).
		Msg("dry run post")
	return success("dryrun://" + item.ID + "/" + strconv.FormatInt(n, 10))
}
