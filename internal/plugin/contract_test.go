package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContractForCoversClosedSet(t *testing.T) {
	t.Parallel()

	for _, kind := range Kinds() {
		contract, ok := ContractFor(kind)
		require.True(t, ok, "kind %s must carry a contract", kind)
		require.NotEmpty(t, contract.Required)
	}

	_, ok := ContractFor(Kind("widget"))
	require.False(t, ok)
}

func TestCheckContractDetectsOptionalMethods(t *testing.T) {
	t.Parallel()

	missing, optional := CheckContract(KindLoader, &fakeChunkingLoader{})
	require.Empty(t, missing)
	require.Equal(t, []string{"Chunk"}, optional)

	missing, optional = CheckContract(KindLoader, &fakeLoader{})
	require.Empty(t, missing)
	require.Empty(t, optional)
}

func TestCheckContractIsStructural(t *testing.T) {
	t.Parallel()

	// A value with extra methods beyond the contract still passes.
	missing, _ := CheckContract(KindRetriever, &fatRetriever{})
	require.Empty(t, missing)
}

type fatRetriever struct{ fakeRetriever }

func (f *fatRetriever) Flush(_ context.Context) error { return nil }

func (f *fatRetriever) Delete(_ context.Context, _ []string) error { return nil }

func TestCheckContractNilValue(t *testing.T) {
	t.Parallel()

	missing, _ := CheckContract(KindLLM, nil)
	require.Equal(t, []string{"Generate"}, missing)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"loader", "embedder", "retriever", "llm", "reranker"} {
		kind, err := ParseKind(valid)
		require.NoError(t, err)
		require.Equal(t, valid, kind.String())
	}

	_, err := ParseKind("scheduler")
	require.Error(t, err)
}

func TestKindsCanonicalOrder(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]Kind{KindLoader, KindEmbedder, KindRetriever, KindReranker, KindLLM},
		Kinds())
}
