package player

import (
	"errors"

	"github.com/samber/lo"
)

// ErrNoPlayers is returned by Combine for an empty input list.
var ErrNoPlayers = errors.New("player: combine requires at least one player")

// Combine left-folds the given players into a single synchronized root:
// the first two are cross-synced, the result is cross-synced with the
// third, and so on. A single player is returned unchanged; the
// resulting root exclusively owns every input.
func Combine(eng *Engine, players []Player, opts ...CrossSyncOption) (Player, error) {
	if len(players) == 0 {
		return nil, ErrNoPlayers
	}
	return lo.Reduce(players[1:], func(acc Player, p Player, _ int) Player {
		return NewCrossSync(eng, acc, p, opts...)
	}, players[0]), nil
}
