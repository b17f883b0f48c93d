package embedder

import (
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check of the embedding configuration. It logs a
// warning when the resolved backend has no API key (the knowledge index will
// apply its embedding policy on every add) and when EMBEDDING_MODEL looks
// like a chat model. Operators get a clear signal at startup rather than a
// cryptic failure during the first embed call.
func Validate(log *slog.Logger) {
	backend := Backend()

	switch backend {
	case "voyage":
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("VOYAGE_API_KEY") == "" {
			log.Warn("embedder: no Voyage API key found — vector insertion follows the embedding policy",
				slog.String("hint", "set VOYAGE_API_KEY or EMBEDDING_API_KEY"),
			)
		}
	case "openai":
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
			log.Warn("embedder: no OpenAI API key found — vector insertion follows the embedding policy",
				slog.String("hint", "set OPENAI_API_KEY or EMBEDDING_API_KEY"),
			)
		}
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. voyage-3, text-embedding-3-small"),
		)
	}
}
