package errors

import (
	"fmt"
	"strings"
	"time"
)

// InvalidInputError reports a missing or malformed argument. It is surfaced
// verbatim to the caller and never retried.
type InvalidInputError struct {
	Field   string
	Message string
}

// NewInvalidInput constructs an InvalidInputError.
func NewInvalidInput(field, message string) error {
	return &InvalidInputError{Field: field, Message: message}
}

func (e *InvalidInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// Is matches any InvalidInputError regardless of field.
func (e *InvalidInputError) Is(target error) bool {
	_, ok := target.(*InvalidInputError)
	return ok
}

// UnknownKindError is returned when a plugin kind is outside the closed set.
type UnknownKindError struct {
	Kind string
}

// NewUnknownKind constructs an UnknownKindError.
func NewUnknownKind(kind string) error {
	return &UnknownKindError{Kind: kind}
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown plugin kind %q (expected loader, embedder, retriever, llm or reranker)", e.Kind)
}

func (e *UnknownKindError) Is(target error) bool {
	_, ok := target.(*UnknownKindError)
	return ok
}

// PluginNotFoundError is returned when no plugin is registered under the
// requested kind and name.
type PluginNotFoundError struct {
	Kind string
	Name string
}

// NewPluginNotFound constructs a PluginNotFoundError.
func NewPluginNotFound(kind, name string) error {
	return &PluginNotFoundError{Kind: kind, Name: name}
}

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not registered for kind %q", e.Name, e.Kind)
}

func (e *PluginNotFoundError) Is(target error) bool {
	_, ok := target.(*PluginNotFoundError)
	return ok
}

// ContractViolationError is returned when a plugin fails the structural
// contract check of its kind at registration time.
type ContractViolationError struct {
	Kind    string
	Name    string
	Missing []string
}

// NewContractViolation constructs a ContractViolationError. Missing must be
// sorted by the caller so the message is deterministic.
func NewContractViolation(kind, name string, missing []string) error {
	return &ContractViolationError{Kind: kind, Name: name, Missing: missing}
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("plugin %q violates %s contract: missing methods [%s]",
		e.Name, e.Kind, strings.Join(e.Missing, ", "))
}

func (e *ContractViolationError) Is(target error) bool {
	_, ok := target.(*ContractViolationError)
	return ok
}

// StageError wraps an underlying plugin failure with the stage and plugin
// identity so callers can attribute the fault.
type StageError struct {
	Stage  string
	Plugin string
	Err    error
}

// NewStageError constructs a StageError.
func NewStageError(stage, plugin string, err error) error {
	return &StageError{Stage: stage, Plugin: plugin, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (plugin %s): %v", e.Stage, e.Plugin, e.Err)
}

// Unwrap exposes the underlying plugin error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// LoadFailedError indicates the loader failed or produced no documents.
type LoadFailedError struct {
	Source string
	Err    error
}

// NewLoadFailed constructs a LoadFailedError.
func NewLoadFailed(source string, err error) error {
	return &LoadFailedError{Source: source, Err: err}
}

func (e *LoadFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load failed for %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("load failed for %q: no documents produced", e.Source)
}

func (e *LoadFailedError) Unwrap() error { return e.Err }

func (e *LoadFailedError) Is(target error) bool {
	_, ok := target.(*LoadFailedError)
	return ok
}

// ChunkingFailedError indicates chunking yielded zero chunks across all
// loaded documents.
type ChunkingFailedError struct {
	Source string
}

// NewChunkingFailed constructs a ChunkingFailedError.
func NewChunkingFailed(source string) error {
	return &ChunkingFailedError{Source: source}
}

func (e *ChunkingFailedError) Error() string {
	return fmt.Sprintf("chunking produced no chunks for %q", e.Source)
}

func (e *ChunkingFailedError) Is(target error) bool {
	_, ok := target.(*ChunkingFailedError)
	return ok
}

// EmbeddingMismatchError indicates the embedder returned a vector list whose
// length differs from the chunk list it was given.
type EmbeddingMismatchError struct {
	Want int
	Got  int
}

// NewEmbeddingMismatch constructs an EmbeddingMismatchError.
func NewEmbeddingMismatch(want, got int) error {
	return &EmbeddingMismatchError{Want: want, Got: got}
}

func (e *EmbeddingMismatchError) Error() string {
	return fmt.Sprintf("embedding mismatch: %d chunks produced %d vectors", e.Want, e.Got)
}

func (e *EmbeddingMismatchError) Is(target error) bool {
	_, ok := target.(*EmbeddingMismatchError)
	return ok
}

// QueryEmbeddingFailedError indicates the query embedding failed or came
// back empty.
type QueryEmbeddingFailedError struct {
	Err error
}

// NewQueryEmbeddingFailed constructs a QueryEmbeddingFailedError.
func NewQueryEmbeddingFailed(err error) error {
	return &QueryEmbeddingFailedError{Err: err}
}

func (e *QueryEmbeddingFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query embedding failed: %v", e.Err)
	}
	return "query embedding failed: empty vector"
}

func (e *QueryEmbeddingFailedError) Unwrap() error { return e.Err }

func (e *QueryEmbeddingFailedError) Is(target error) bool {
	_, ok := target.(*QueryEmbeddingFailedError)
	return ok
}

// GenerationFailedError indicates the language model returned an empty
// response or failed outright.
type GenerationFailedError struct {
	Err error
}

// NewGenerationFailed constructs a GenerationFailedError.
func NewGenerationFailed(err error) error {
	return &GenerationFailedError{Err: err}
}

func (e *GenerationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return "generation failed: empty response"
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

func (e *GenerationFailedError) Is(target error) bool {
	_, ok := target.(*GenerationFailedError)
	return ok
}

// PartialEmbeddingError reports that some embedding batches failed after
// retries while half or fewer of the chunks were affected. The executor
// fails hard rather than returning a short result, so length and order
// invariants hold unconditionally.
type PartialEmbeddingError struct {
	FailedChunks int
	TotalChunks  int
	Batches      []int
	Err          error
}

// NewPartialEmbedding constructs a PartialEmbeddingError.
func NewPartialEmbedding(failed, total int, batches []int, err error) error {
	return &PartialEmbeddingError{FailedChunks: failed, TotalChunks: total, Batches: batches, Err: err}
}

func (e *PartialEmbeddingError) Error() string {
	return fmt.Sprintf("partial embedding failure: %d of %d chunks failed (batches %v)",
		e.FailedChunks, e.TotalChunks, e.Batches)
}

func (e *PartialEmbeddingError) Unwrap() error { return e.Err }

func (e *PartialEmbeddingError) Is(target error) bool {
	_, ok := target.(*PartialEmbeddingError)
	return ok
}

// ParallelEmbeddingError reports that more than half of the chunks sat in
// failed batches. It carries the first batch error observed.
type ParallelEmbeddingError struct {
	FailedChunks int
	TotalChunks  int
	Err          error
}

// NewParallelEmbedding constructs a ParallelEmbeddingError.
func NewParallelEmbedding(failed, total int, err error) error {
	return &ParallelEmbeddingError{FailedChunks: failed, TotalChunks: total, Err: err}
}

func (e *ParallelEmbeddingError) Error() string {
	return fmt.Sprintf("parallel embedding failed: %d of %d chunks failed: %v",
		e.FailedChunks, e.TotalChunks, e.Err)
}

func (e *ParallelEmbeddingError) Unwrap() error { return e.Err }

func (e *ParallelEmbeddingError) Is(target error) bool {
	_, ok := target.(*ParallelEmbeddingError)
	return ok
}

// IntegrityError indicates a downloaded artifact did not match its declared
// SHA-256 checksum. Fatal at install time, never retried.
type IntegrityError struct {
	Expected string
	Actual   string
}

// NewIntegrityFailed constructs an IntegrityError.
func NewIntegrityFailed(expected, actual string) error {
	return &IntegrityError{Expected: expected, Actual: actual}
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity verification failed: expected sha256 %s, got %s", e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	_, ok := target.(*IntegrityError)
	return ok
}

// SecurityScanError indicates the security scan surfaced high-risk findings
// at install or publish time.
type SecurityScanError struct {
	Issues []string
}

// NewSecurityScanFailed constructs a SecurityScanError.
func NewSecurityScanFailed(issues []string) error {
	return &SecurityScanError{Issues: issues}
}

func (e *SecurityScanError) Error() string {
	return fmt.Sprintf("security scan failed: %s", strings.Join(e.Issues, "; "))
}

func (e *SecurityScanError) Is(target error) bool {
	_, ok := target.(*SecurityScanError)
	return ok
}

// NotCertifiedError indicates an install required certification the plugin
// does not carry.
type NotCertifiedError struct {
	PluginID string
}

// NewNotCertified constructs a NotCertifiedError.
func NewNotCertified(pluginID string) error {
	return &NotCertifiedError{PluginID: pluginID}
}

func (e *NotCertifiedError) Error() string {
	return fmt.Sprintf("plugin %q is not certified and certification is required", e.PluginID)
}

func (e *NotCertifiedError) Is(target error) bool {
	_, ok := target.(*NotCertifiedError)
	return ok
}

// RatingOutOfRangeError indicates a review rating outside 1..5.
type RatingOutOfRangeError struct {
	Rating int
}

// NewRatingOutOfRange constructs a RatingOutOfRangeError.
func NewRatingOutOfRange(rating int) error {
	return &RatingOutOfRangeError{Rating: rating}
}

func (e *RatingOutOfRangeError) Error() string {
	return fmt.Sprintf("rating %d out of range (must be an integer between 1 and 5)", e.Rating)
}

func (e *RatingOutOfRangeError) Is(target error) bool {
	_, ok := target.(*RatingOutOfRangeError)
	return ok
}

// RateLimitedError is surfaced when a sliding-window limit denies a request.
// RetryAfter tells the caller how long to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// NewRateLimited constructs a RateLimitedError.
func NewRateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	_, ok := target.(*RateLimitedError)
	return ok
}

// CancelledError propagates a cancellation. Once seen, no further retries or
// plugin calls are initiated.
type CancelledError struct {
	Op  string
	Err error
}

// NewCancelled constructs a CancelledError.
func NewCancelled(op string, err error) error {
	return &CancelledError{Op: op, Err: err}
}

func (e *CancelledError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("cancelled during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// Kind returns the stable kind label of an error for metric breakdowns and
// user-facing reporting. Errors outside the taxonomy report "Unknown".
func Kind(err error) string {
	for err != nil {
		switch err.(type) {
		case *InvalidInputError:
			return "InvalidInput"
		case *UnknownKindError:
			return "UnknownKind"
		case *PluginNotFoundError:
			return "PluginNotFound"
		case *ContractViolationError:
			return "ContractViolation"
		case *StageError:
			return "StageError"
		case *LoadFailedError:
			return "LoadFailed"
		case *ChunkingFailedError:
			return "ChunkingFailed"
		case *EmbeddingMismatchError:
			return "EmbeddingMismatch"
		case *QueryEmbeddingFailedError:
			return "QueryEmbeddingFailed"
		case *GenerationFailedError:
			return "GenerationFailed"
		case *PartialEmbeddingError:
			return "PartialEmbeddingFailure"
		case *ParallelEmbeddingError:
			return "ParallelEmbeddingFailed"
		case *IntegrityError:
			return "IntegrityFailed"
		case *SecurityScanError:
			return "SecurityScanFailed"
		case *NotCertifiedError:
			return "NotCertified"
		case *RatingOutOfRangeError:
			return "RatingOutOfRange"
		case *RateLimitedError:
			return "RateLimited"
		case *CancelledError:
			return "Cancelled"
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "Unknown"
		}
		err = unwrapper.Unwrap()
	}
	return "Unknown"
}
