// Package fetch orchestrates a single post lookup: URL validation, result
// cache, session lease, the concurrent page/resolver race, media selection and
// audit recording.
package fetch
