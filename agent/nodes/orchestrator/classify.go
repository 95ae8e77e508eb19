package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

type ClassifyOptions struct {
	Classifier    contractx.Classifier
	MaxRetries    int
	RetryInterval time.Duration
	ErrorMessage  string

	Logger       zerolog.Logger
	LogChat      bool
	LogRawOutput bool
	LogOutput    bool
}

// Classify selects an agent for the turn. Failed attempts are retried with
// exponential backoff; once the budget is spent the turn is marked as a
// classification failure instead of returning the error.
func Classify(ctx context.Context, in *GraphState, opts ClassifyOptions) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier is not configured", contractx.ErrInvalidConfig)
	}

	if opts.LogChat {
		opts.Logger.Info().
			Str("request_id", in.RequestID).
			Str("input", in.UserInput).
			Int("history_messages", len(in.SessionHistory)).
			Interface("history", in.SessionHistory).
			Msg("classifier chat")
	}

	result, attempts, err := classifyWithRetry(ctx, in, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		opts.Logger.Error().
			Err(err).
			Str("request_id", in.RequestID).
			Int("attempts", attempts).
			Msg("classification failed")
		in.ErrorKind = ErrorKindClassification
		in.Reply = opts.ErrorMessage
		return in, nil
	}

	if opts.LogRawOutput {
		opts.Logger.Info().Str("request_id", in.RequestID).Str("raw", result.Raw).Msg("classifier raw output")
	}
	if opts.LogOutput {
		ev := opts.Logger.Info().Str("request_id", in.RequestID).Float64("confidence", result.Confidence).Int("attempts", attempts)
		if result.SelectedAgent != nil {
			ev = ev.Str("agent", result.SelectedAgent.Info().ID)
		}
		ev.Msg("classifier output")
	}

	in.Classification = result
	return in, nil
}

func classifyWithRetry(ctx context.Context, in *GraphState, opts ClassifyOptions) (contractx.ClassifierResult, int, error) {
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.RetryInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)

	var (
		result   contractx.ClassifierResult
		attempts int
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		r, err := opts.Classifier.Classify(ctx, in.UserInput, in.SessionHistory)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy, func(err error, wait time.Duration) {
		opts.Logger.Warn().
			Err(err).
			Str("request_id", in.RequestID).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("classification attempt failed")
	})
	return result, attempts, err
}
