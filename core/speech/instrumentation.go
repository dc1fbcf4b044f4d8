package speech

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-persona/core/speech"

var tracer = otel.Tracer(scopeName)
