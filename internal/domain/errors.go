package domain

import "errors"

var (
	// ErrArtifactMissing means no index artifacts exist yet; a build is expected.
	ErrArtifactMissing = errors.New("index artifact missing")
	// ErrArtifactCorrupt means the artifact pair is unreadable or inconsistent.
	// It is never repaired silently: the operator has to rebuild explicitly.
	ErrArtifactCorrupt = errors.New("index artifact corrupt")
	// ErrGenerationUnreachable means the generation backend failed or timed out.
	ErrGenerationUnreachable = errors.New("generation backend unreachable")
	// ErrEmptyCorpus means no documents (or no chunks) were found to index.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrEmptyInput rejects a turn without text.
	ErrEmptyInput = errors.New("empty user input")
)
