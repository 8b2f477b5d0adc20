package feed

import (
	"ddalti/internal/config"
	"ddalti/internal/models"
)

// FilterHot keeps the tickets worth promoting.
//
// In flag mode only isHot tickets pass. In views mode a ticket whose genre has
// a threshold passes when its view count exceeds it; other genres still need isHot.
func FilterHot(tickets []models.Ticket, mode string, thresholds map[string]int) []models.Ticket {
	hot := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if isHot(t, mode, thresholds) {
			hot = append(hot, t)
		}
	}
	return hot
}

func isHot(t models.Ticket, mode string, thresholds map[string]int) bool {
	if mode != config.HotModeViews {
		return t.IsHot
	}
	limit, ok := thresholds[t.GoodsGenreStr]
	if !ok {
		return t.IsHot
	}
	return t.ViewCount > limit
}
