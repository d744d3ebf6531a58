package anthropic

import "errors"

var errNoEmbedder = errors.New("no embedder configured")
