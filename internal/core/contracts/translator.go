package contracts

import "context"

// Translator is the machine-translation backend. Calls respect ctx
// cancellation; the worker applies the per-job timeout.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}
