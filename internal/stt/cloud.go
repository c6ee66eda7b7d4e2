package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// CloudEngine implements Engine using Google Cloud Speech-to-Text streaming
// recognition. It is the network-backed variant: unusable when offline or
// when privacy mode is on.
type CloudEngine struct {
	client     *speech.Client
	language   string
	sampleRate int
	log        zerolog.Logger

	mu           sync.Mutex
	stream       speechpb.Speech_StreamingRecognizeClient
	started      bool
	sessionID    string
	epoch        time.Time
	results      chan Result
	recvDone     chan struct{}
	droppedFinal *Result
	lastPart     *Result
}

// CloudOptions configures the cloud engine.
type CloudOptions struct {
	Language        string
	SampleRate      int
	CredentialsFile string
	Log             zerolog.Logger
}

// NewCloudEngine creates the cloud engine. Returns ErrEngineUnavailable
// wrapped when the Speech client cannot be constructed (e.g. no credentials).
func NewCloudEngine(ctx context.Context, opts CloudOptions) (*CloudEngine, error) {
	var copts []option.ClientOption
	if opts.CredentialsFile != "" {
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("%w: speech client: %v", ErrEngineUnavailable, err)
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	return &CloudEngine{
		client:     client,
		language:   opts.Language,
		sampleRate: opts.SampleRate,
		log:        opts.Log,
	}, nil
}

func (e *CloudEngine) Source() Source { return SourceNetwork }

// Start opens a streaming recognition session and sends the initial config.
func (e *CloudEngine) Start(ctx context.Context, sessionID string, epoch time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("cloud engine: session %s already started", e.sessionID)
	}

	stream, err := e.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("%w: streaming recognize: %v", ErrEngineUnavailable, err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(e.sampleRate),
					LanguageCode:    e.language,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send streaming config: %w", err)
	}

	if epoch.IsZero() {
		epoch = time.Now()
	}
	e.stream = stream
	e.started = true
	e.sessionID = sessionID
	e.epoch = epoch
	e.results = make(chan Result, 64)
	e.recvDone = make(chan struct{})
	e.droppedFinal = nil
	e.lastPart = nil

	go e.recvLoop(stream, e.results, e.recvDone)

	e.log.Info().Str("session_id", sessionID).Msg("cloud engine started")
	return nil
}

func (e *CloudEngine) recvLoop(stream speechpb.Speech_StreamingRecognizeClient, out chan Result, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err != nil {
			return
		}
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			res := Result{
				Text:        alt.Transcript,
				IsFinal:     r.IsFinal,
				Confidence:  float64(alt.Confidence),
				TimestampMs: time.Since(e.epoch).Milliseconds(),
				Source:      SourceNetwork,
			}
			e.mu.Lock()
			if res.IsFinal {
				e.lastPart = nil
			} else {
				p := res
				e.lastPart = &p
			}
			e.mu.Unlock()
			select {
			case out <- res:
			default:
				// A dropped partial is superseded by a later one; a dropped
				// final is kept so Stop can surface it.
				if res.IsFinal {
					e.mu.Lock()
					f := res
					e.droppedFinal = &f
					e.mu.Unlock()
				}
			}
		}
	}
}

// Feed sends one audio chunk to the open stream.
func (e *CloudEngine) Feed(chunk Chunk) error {
	e.mu.Lock()
	stream := e.stream
	started := e.started
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk.Samples,
		},
	})
}

// Stop half-closes the stream and waits briefly for trailing results. Finals
// are streamed on the result channel as they arrive, so Stop returns only
// what never got there: a final dropped by a slow consumer, or a pending
// partial promoted to final. Nil means everything was already streamed.
func (e *CloudEngine) Stop() (*Result, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	stream := e.stream
	done := e.recvDone
	e.started = false
	e.mu.Unlock()

	_ = stream.CloseSend()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		e.log.Warn().Str("session_id", e.sessionID).Msg("cloud engine recv loop did not drain in time")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.results)

	final := e.droppedFinal
	if final == nil && e.lastPart != nil {
		f := *e.lastPart
		f.IsFinal = true
		final = &f
	}
	e.log.Info().Str("session_id", e.sessionID).Msg("cloud engine stopped")
	return final, nil
}

// Results returns the unified result stream for the current session.
func (e *CloudEngine) Results() <-chan Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// Close releases the underlying client.
func (e *CloudEngine) Close() error {
	return e.client.Close()
}
