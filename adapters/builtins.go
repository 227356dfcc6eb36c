package adapters

// NOTE: If build bloat becomes a concern for unused sources
// look into build tags i.e. +build !nohttp
// or nested packages with init() and main app can include just importing
// import (_ github.com/.../adapters/http)

type BuiltInSourceType = string

const (
	HTTPSourceType BuiltInSourceType = "http"
)

// RegisterBuiltins registers all built-in sources by default
// or only the specific ones if keys are provided
func RegisterBuiltins(sources ...BuiltInSourceType) {
	if len(sources) == 0 {
		// Include all built-in sources here when adding implementations
		sources = append(sources, HTTPSourceType)
	}

	for _, key := range sources {
		switch key {
		case HTTPSourceType:
			RegisterHTTP()
		}
	}
}
