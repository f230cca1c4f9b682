package app

import "github.com/spf13/pflag"

// RegisterFlags registers the server flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}

// RegisterSearchFlags registers the store and index flags shared by every
// command on the given FlagSet
func RegisterSearchFlags(flags *pflag.FlagSet) {
	flags.StringP("data-dir", "d", "", "Directory holding the entity store and indexes")
	flags.String("analyzer", "", "Default analyzer: simple, standard, keyword, or en")
	flags.Int("max-results", 0, "Maximum hits returned by a query")
	flags.Int("batch-size", 0, "Documents per batch when rebuilding indexes")
	flags.Duration("lock-timeout", 0, "How long to wait for the data directory lock")
}
