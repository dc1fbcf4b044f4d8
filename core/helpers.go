package orchestration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

type stepRun func(context.Context) error

// panicSafeStep runs one suspension point of a turn in its own span. A panic
// in run is returned as an error so the caller can decide between fallback
// and abort like for any other failure.
func panicSafeStep(ctx context.Context, name string, run stepRun) (err error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return run(ctx)
}
