// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a small interface used by the
// demo agent to pick a tool worth paying for and to analyze the purchased
// data.
package llm
