// Package llm provides language model clients for line-item classification.
// It supports the OpenAI and Anthropic APIs, with retry logic, a per-hour
// call budget, and strict response-shape validation: any unparseable reply
// degrades to an explicit zero-confidence result instead of an error the
// pipeline would have to guess about.
package llm
