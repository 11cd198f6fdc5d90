package router

import "fmt"

// User-facing message templates. The knowledge base is Persian, so the
// canned responses are too; the UI renders them as-is.
const (
	msgNoResults          = "متأسفم، چیزی پیدا نکردم. می‌تونید سوالتون رو واضح‌تر بپرسید؟"
	msgMismatchSuggestion = "می‌خواید به چت آن بیماری برید؟"
	msgLLMFallback        = "سوال شما رو کاملا متوجه نشدم. بهتره از هوش مصنوعی کمک بگیرم..."
)

func msgClarification(matchedQuestion string) string {
	return fmt.Sprintf("منظورتون این است؟\n\n%s", matchedQuestion)
}

func msgConditionMismatch(detectedConditionName, currentConditionName string) string {
	return fmt.Sprintf("به نظر می‌رسه سوال شما درباره %s باشه، نه %s.", detectedConditionName, currentConditionName)
}
