package contracts

import "context"

// TranslationCache is keyed by (source, target, content hash), independent
// of message identity, so identical content in different messages hits. It
// must be shared across instances; the in-process LRU in front of it is a
// local accelerator only.
type TranslationCache interface {
	Get(ctx context.Context, source, target, contentHash string) (text string, ok bool, err error)
	Put(ctx context.Context, source, target, contentHash, text string) error
}
