package pipeline

import (
	"context"

	"newsdigest/internal/clustering"
	"newsdigest/internal/core"
)

// Source supplies normalized article records
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Fetch returns the current articles in discovery order
	Fetch(ctx context.Context) ([]core.RawArticle, error)
}

// TopicAssigner places a prepared story into a topic and stores it
type TopicAssigner interface {
	Process(ctx context.Context, story *core.Story) (*clustering.Result, error)
}

// DigestGenerator builds the daily digest from stored stories
type DigestGenerator interface {
	// Generate returns nil without error when there is nothing to digest
	Generate(ctx context.Context) (*core.DailyDigest, error)
}
