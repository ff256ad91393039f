package plugin

import (
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// Kind identifies one of the five pipeline stage roles a plugin can fill.
type Kind string

const (
	KindLoader    Kind = "loader"
	KindEmbedder  Kind = "embedder"
	KindRetriever Kind = "retriever"
	KindLLM       Kind = "llm"
	KindReranker  Kind = "reranker"
)

// Kinds returns the closed set of plugin kinds in canonical pipeline order.
func Kinds() []Kind {
	return []Kind{KindLoader, KindEmbedder, KindRetriever, KindReranker, KindLLM}
}

// ParseKind validates a kind string against the closed set.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLoader, KindEmbedder, KindRetriever, KindLLM, KindReranker:
		return Kind(s), nil
	default:
		return "", raggerrors.NewUnknownKind(s)
	}
}

// Valid reports whether the kind belongs to the closed set.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

func (k Kind) String() string { return string(k) }
