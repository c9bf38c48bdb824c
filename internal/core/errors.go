package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmbeddingFailed   = errors.New("embedding failed")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("conflict")
	errEmptyModelOutput  = errors.New("model returned no text")
	errDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Stage names a step of the turn or delete protocol. They show up in logs and errors.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageIngest         Stage = "ingest"
	StageIndexUser      Stage = "index_user"
	StageRecall         Stage = "recall"
	StageGenerate       Stage = "generate"
	StageCommit         Stage = "commit"
	StageIndexModel     Stage = "index_model"
	StageLookupChat     Stage = "lookup_chat"
	StageDeleteMessages Stage = "delete_messages"
	StageDeleteVectors  Stage = "delete_vectors"
	StageDeleteChat     Stage = "delete_chat"
)

// StageError is the single terminal error of a failed turn or delete. errors.Is matches
// both the Kind sentinel and the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, kind error, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// StageOf reports the failing stage of err, or "" when err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Describe turns an error into text that is safe to show a client.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		var se *StageError
		if errors.As(err, &se) && se.Err != nil {
			return se.Err.Error()
		}
		return "invalid input"
	case errors.Is(err, ErrNotFound):
		return "chat not found"
	case errors.Is(err, ErrForbidden):
		return "you do not have access to this chat"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrEmbeddingFailed):
		return "could not process the message, please try again"
	case errors.Is(err, ErrGenerationFailed):
		return "the model could not generate a reply, please try again"
	case errors.Is(err, ErrStoreUnavailable):
		return "storage is temporarily unavailable, please try again"
	default:
		return "internal error"
	}
}
