// Package llm provides text-generation provider strategies for prediction and receipt
// structuring. It supports OpenAI-compatible APIs (OpenAI, Mistral, DeepSeek), Anthropic
// and Gemini, with typed provider errors, context-limit detection, markdown-fenced JSON
// extraction and client-side rate limiting.
package llm
