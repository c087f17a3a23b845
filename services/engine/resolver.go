package engine

import (
	"context"

	"recoveryd/services/drs"
	"recoveryd/services/planstore"
)

// resolveWave returns the wave's target server set: the static list
// verbatim when present, otherwise a tag-filter query at execution time
// (late binding). An empty tag resolution is a valid outcome, not an error.
func resolveWave(ctx context.Context, client drs.API, wave planstore.Wave) ([]string, error) {
	if len(wave.Servers) > 0 {
		return wave.Servers, nil
	}
	return client.ServersByTags(ctx, wave.Tags)
}
