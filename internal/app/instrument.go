package app

import (
	"context"
	"errors"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/types"
)

// Request statuses recorded on voxnote.provider.requests.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusUnsupported = "unsupported"
	statusRejected    = "rejected"
)

// instrumentedStreaming counts StartStream calls of one named backend.
type instrumentedStreaming struct {
	name    string
	next    stt.Provider
	metrics *observe.Metrics
}

var _ stt.Provider = (*instrumentedStreaming)(nil)

func (p *instrumentedStreaming) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, err := p.next.StartStream(ctx, cfg)
	switch {
	case err == nil:
		p.metrics.RecordProviderRequest(ctx, p.name, "streaming", statusOK)
	case errors.Is(err, stt.ErrLanguageUnsupported):
		p.metrics.RecordProviderRequest(ctx, p.name, "streaming", statusUnsupported)
	default:
		p.metrics.RecordProviderRequest(ctx, p.name, "streaming", statusError)
		p.metrics.RecordProviderError(ctx, p.name, "streaming")
	}
	return h, err
}

// instrumentedBatch counts Transcribe calls of one named backend.
type instrumentedBatch struct {
	name    string
	next    batch.Recognizer
	metrics *observe.Metrics
}

var _ batch.Recognizer = (*instrumentedBatch)(nil)

func (r *instrumentedBatch) Transcribe(ctx context.Context, audio batch.Audio, languageHint string) (types.Candidate, error) {
	c, err := r.next.Transcribe(ctx, audio, languageHint)
	switch {
	case err == nil:
		r.metrics.RecordProviderRequest(ctx, r.name, "batch", statusOK)
	case batch.KindOf(err) == batch.KindTooLarge || batch.KindOf(err) == batch.KindInvalidConfiguration:
		// Rejected locally; nothing was uploaded.
		r.metrics.RecordProviderRequest(ctx, r.name, "batch", statusRejected)
	default:
		r.metrics.RecordProviderRequest(ctx, r.name, "batch", statusError)
		r.metrics.RecordProviderError(ctx, r.name, "batch")
	}
	return c, err
}
