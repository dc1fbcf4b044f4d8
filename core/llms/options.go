package llms

// PromptOptions are the per-call options of a backend Generate call.
type PromptOptions struct {
	Instructions string
	Turns        []Turn
	// Stream receives answer content as it is generated. Backends that do
	// not stream call it once with the whole answer.
	Stream func(string)
}

type PromptOption func(*PromptOptions)

func WithInstructions(instructions string) PromptOption {
	return func(o *PromptOptions) { o.Instructions = instructions }
}

func WithTurns(turns []Turn) PromptOption {
	return func(o *PromptOptions) { o.Turns = turns }
}

func WithStream(stream func(string)) PromptOption {
	return func(o *PromptOptions) { o.Stream = stream }
}

func NewPromptOptions(opts ...PromptOption) PromptOptions {
	options := PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
