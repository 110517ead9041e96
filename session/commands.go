package session

import "strings"

type intentRule struct {
	intent   Intent
	keywords []string
}

// Порядок важен: побеждает первое совпавшее правило
var defaultRules = []intentRule{
	{IntentGreeting, []string{"hello", "hi"}},
	{IntentStartWorkflow, []string{"start", "begin"}},
	{IntentStopWorkflow, []string{"stop", "end"}},
	{IntentStatusCheck, []string{"status", "report"}},
	{IntentShowHelp, []string{"help"}},
}

// Interpreter сопоставляет текст команды с намерением по таблице ключевых слов
type Interpreter struct {
	rules []intentRule
}

// NewInterpreter интерпретатор со стандартной таблицей
func NewInterpreter() *Interpreter {
	return &Interpreter{rules: defaultRules}
}

// Interpret регистронезависимый поиск подстроки, первое правило побеждает
func (i *Interpreter) Interpret(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, rule := range i.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent, true
			}
		}
	}
	return "", false
}
