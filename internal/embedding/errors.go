package embedding

import "errors"

var (
	// ErrModelLoad means the embedding backend could not be initialized.
	// Fatal to the whole engine; surfaced at startup, never per-query.
	ErrModelLoad = errors.New("embedding model failed to initialize")

	// ErrEncoding means the input text could not be encoded. Should not
	// occur for well-formed UTF-8; the query fails and the caller degrades
	// to a generic response.
	ErrEncoding = errors.New("text could not be encoded")
)
