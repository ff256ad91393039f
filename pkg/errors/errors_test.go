package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContractViolationCarriesMissingMethods(t *testing.T) {
	t.Parallel()

	err := NewContractViolation("loader", "bad", []string{"Load"})

	var violation *ContractViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "loader", violation.Kind)
	require.Equal(t, []string{"Load"}, violation.Missing)
	require.Contains(t, err.Error(), "Load")
}

func TestStageErrorWrapsPluginFailure(t *testing.T) {
	t.Parallel()

	underlying := fmt.Errorf("connection refused")
	err := NewStageError("embedder", "openai", underlying)

	require.ErrorIs(t, err, underlying)
	require.Contains(t, err.Error(), "embedder")
	require.Contains(t, err.Error(), "openai")
}

func TestKindMatchingViaErrorsIs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		target error
	}{
		{NewInvalidInput("prompt", "must not be empty"), &InvalidInputError{}},
		{NewUnknownKind("widget"), &UnknownKindError{}},
		{NewPluginNotFound("llm", "gpt"), &PluginNotFoundError{}},
		{NewLoadFailed("/docs", nil), &LoadFailedError{}},
		{NewChunkingFailed("/docs"), &ChunkingFailedError{}},
		{NewEmbeddingMismatch(4, 3), &EmbeddingMismatchError{}},
		{NewQueryEmbeddingFailed(nil), &QueryEmbeddingFailedError{}},
		{NewGenerationFailed(nil), &GenerationFailedError{}},
		{NewIntegrityFailed("aa", "bb"), &IntegrityError{}},
		{NewSecurityScanFailed([]string{"eval dependency"}), &SecurityScanError{}},
		{NewNotCertified("pdf-loader"), &NotCertifiedError{}},
		{NewRatingOutOfRange(7), &RatingOutOfRangeError{}},
		{NewRateLimited(2 * time.Second), &RateLimitedError{}},
		{NewCancelled("embed", fmt.Errorf("context canceled")), &CancelledError{}},
	}

	for _, tc := range cases {
		require.ErrorIs(t, tc.err, tc.target, "error %T should match its own kind", tc.err)
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	t.Parallel()

	err := NewIntegrityFailed("aa", "bb")
	require.False(t, stdErrors.Is(err, &SecurityScanError{}))
	require.False(t, stdErrors.Is(err, &NotCertifiedError{}))
}

func TestPartialEmbeddingReportsShare(t *testing.T) {
	t.Parallel()

	first := fmt.Errorf("batch 2 timed out")
	err := NewPartialEmbedding(4, 10, []int{2, 3}, first)

	var partial *PartialEmbeddingError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, 4, partial.FailedChunks)
	require.Equal(t, 10, partial.TotalChunks)
	require.ErrorIs(t, err, first)
}

func TestParallelEmbeddingCarriesFirstError(t *testing.T) {
	t.Parallel()

	first := fmt.Errorf("provider unavailable")
	err := NewParallelEmbedding(8, 10, first)

	require.ErrorIs(t, err, first)
	require.Contains(t, err.Error(), "8 of 10")
}

func TestRateLimitedExposesRetryAfter(t *testing.T) {
	t.Parallel()

	err := NewRateLimited(90 * time.Second)

	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, 90*time.Second, limited.RetryAfter)
}
