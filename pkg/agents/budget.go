package agents

import (
	"patentflow/pkg/utils"
)

// docTokenBudget bounds how much raw document text an agent puts in front of
// the model. The knowledge context has its own character budget; this keeps
// the two from crowding each other out of the context window.
const docTokenBudget = 2000

// newTokenCounter returns a token counter, degrading to the character-based
// estimate when the tokenizer vocabulary cannot be loaded.
func newTokenCounter() *utils.TokenCounter {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		return &utils.TokenCounter{}
	}
	return counter
}

// docExcerpt trims document text to the per-agent token budget.
func docExcerpt(counter *utils.TokenCounter, text string) string {
	return counter.TruncateToTokenLimit(text, docTokenBudget)
}
