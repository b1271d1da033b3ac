package model

import "strings"

// ErrorKind classifies a chunk failure so the orchestrator and job runner
// can decide whether to retry, split, or give up outright.
type ErrorKind string

const (
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindLLM            ErrorKind = "llm"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindPromptBlocked  ErrorKind = "prompt_blocked"
	ErrorKindParse          ErrorKind = "parse"
	ErrorKindDatabase       ErrorKind = "database"
	ErrorKindTokenExhausted ErrorKind = "token_exhausted"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// ClassifyError inspects an error's message to decide its kind and whether
// it is worth retrying. Prompt-blocked errors (content safety rejections)
// are deliberately never retried, and never split, since retrying or
// splitting the same page range yields the same rejection.
func ClassifyError(err error) (ErrorKind, bool) {
	if err == nil {
		return ErrorKindUnknown, false
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "token balance") || strings.Contains(errStr, "token budget"):
		// Exhausting a job's or user's token ledger is never retryable: the
		// job runner cancels the job outright rather than burning retries.
		return ErrorKindTokenExhausted, false

	case strings.Contains(errStr, "blocked") || strings.Contains(errStr, "safety") || strings.Contains(errStr, "prohibited_content"):
		return ErrorKindPromptBlocked, false

	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dial") || strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset by peer"):
		return ErrorKindNetwork, true

	case strings.Contains(errStr, "status 429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "status 500") || strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") || strings.Contains(errStr, "status 504") ||
		strings.Contains(errStr, "llm api error") || strings.Contains(errStr, "generate call failed"):
		return ErrorKindLLM, true

	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline"):
		return ErrorKindTimeout, true

	case strings.Contains(errStr, "no valid json") || strings.Contains(errStr, "failed to parse analyzer response") ||
		strings.Contains(errStr, "unmarshal"):
		return ErrorKindParse, true

	case strings.Contains(errStr, "database") || strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "sql") || strings.Contains(errStr, "gorm"):
		return ErrorKindDatabase, false

	default:
		return ErrorKindUnknown, true
	}
}
