package pipeline

import "errors"

var (
	// ErrRunInProgress reports that a run trigger arrived while another
	// run holds the pipeline.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrEmbeddingUnavailable reports that the embedding collaborator
	// failed. It aborts the current run's filter stage and is not
	// retried locally.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)
