package location

import (
	"context"
	"time"

	"fleet-tracker/internal/models"

	log "github.com/sirupsen/logrus"
)

// LadderRungs are tried in order by Acquire, each less strict than the last
var LadderRungs = []Profile{
	{HighAccuracy: true, Timeout: 8 * time.Second, MaximumAge: 60 * time.Second},
	{HighAccuracy: true, Timeout: 12 * time.Second, MaximumAge: 180 * time.Second},
	{HighAccuracy: false, Timeout: 15 * time.Second, MaximumAge: 300 * time.Second},
	{HighAccuracy: false, Timeout: 20 * time.Second, MaximumAge: 600 * time.Second},
}

// Ladder obtains a single best-effort fix
type Ladder struct {
	provider Provider
	network  NetworkLocator
	rungs    []Profile
	now      func() time.Time
}

// NewLadder creates a ladder over the default rungs. network may be nil.
func NewLadder(provider Provider, network NetworkLocator) *Ladder {
	return &Ladder{
		provider: provider,
		network:  network,
		rungs:    LadderRungs,
		now:      time.Now,
	}
}

// Acquire walks the rungs and returns the first fix, falling back to the
// network locator. It returns nil only when every rung failed; it never
// returns an error.
func (l *Ladder) Acquire(ctx context.Context) *models.PositionSample {
	for i, rung := range l.rungs {
		if ctx.Err() != nil {
			return nil
		}

		sample, ok := l.tryRung(ctx, rung)
		if ok {
			log.WithFields(log.Fields{"rung": i + 1, "accuracy": sample.Accuracy}).Debug("📍 fix acquired")
			return &sample
		}
	}

	if l.network == nil || ctx.Err() != nil {
		return nil
	}

	lat, lng, err := l.network.Locate(ctx)
	if err != nil {
		log.WithError(err).Warn("⚠️  every location rung failed, including network lookup")
		return nil
	}

	sample := networkSample(lat, lng, l.now())
	log.Printf("📍 Using network location (%.4f, %.4f), accuracy %.0fm", lat, lng, sample.Accuracy)
	return &sample
}

func (l *Ladder) tryRung(ctx context.Context, rung Profile) (models.PositionSample, bool) {
	rungCtx, cancel := context.WithTimeout(ctx, rung.Timeout)
	defer cancel()

	sample, err := l.provider.GetFix(rungCtx, rung)
	if err != nil {
		log.WithField("profile", rung.String()).Debugf("rung failed: %v", err)
		return models.PositionSample{}, false
	}
	return sample, true
}
