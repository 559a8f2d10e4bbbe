package parser

import (
	"fmt"
	"strings"

	"novel-engine/shared/models"
)

// DefaultChoiceCount - размер набора вариантов, до которого дополняется короткий список.
const DefaultChoiceCount = 3

var defaultChoiceSet = []models.ChoiceOption{
	{
		Text:            "谨慎观察周围的动静",
		Description:     "先弄清局势再行动",
		ConsequenceHint: "稳妥，但可能错失良机",
		Difficulty:      models.DifficultyEasy,
		Kind:            models.ChoiceKindAction,
	},
	{
		Text:            "与身边的人交谈，打探消息",
		Description:     "从他人口中寻找线索",
		ConsequenceHint: "可能获得帮助，也可能暴露意图",
		Difficulty:      models.DifficultyMedium,
		Kind:            models.ChoiceKindDialogue,
	},
	{
		Text:            "做出大胆的决定，直面危机",
		Description:     "主动出击，改变局面",
		ConsequenceHint: "收获与风险并存",
		Difficulty:      models.DifficultyHard,
		Kind:            models.ChoiceKindDecision,
	},
}

// DefaultChoices возвращает n детерминированных вариантов с ID choice_1..n.
func DefaultChoices(n int) []models.ChoiceOption {
	out := make([]models.ChoiceOption, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, defaultChoice(i))
	}
	assignIDs(out)
	return out
}

func defaultChoice(i int) models.ChoiceOption {
	if i < len(defaultChoiceSet) {
		return defaultChoiceSet[i]
	}
	return models.ChoiceOption{
		Text:       fmt.Sprintf("另寻出路（%d）", i+1),
		Difficulty: models.DifficultyMedium,
		Kind:       models.ChoiceKindDecision,
	}
}

// NormalizeChoices приводит список вариантов к инварианту главы:
// лишние отбрасываются, короткий список дополняется вариантами по умолчанию,
// неизвестные difficulty/kind заменяются на medium/action, ID назначаются заново.
func (p *ContentParser) NormalizeChoices(in []models.ChoiceOption) []models.ChoiceOption {
	out := make([]models.ChoiceOption, 0, p.cfg.MaxChoices)
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" || seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		if !c.Difficulty.IsValid() {
			c.Difficulty = models.DifficultyMedium
		}
		if !c.Kind.IsValid() {
			c.Kind = models.ChoiceKindAction
		}
		out = append(out, c)
		if len(out) == p.cfg.MaxChoices {
			break
		}
	}

	if len(out) < p.cfg.MinChoices {
		target := DefaultChoiceCount
		if target < p.cfg.MinChoices {
			target = p.cfg.MinChoices
		}
		if target > p.cfg.MaxChoices {
			target = p.cfg.MaxChoices
		}
		for i := 0; len(out) < target; i++ {
			d := defaultChoice(i)
			if seen[d.Text] {
				continue
			}
			seen[d.Text] = true
			out = append(out, d)
		}
	}

	assignIDs(out)
	return out
}

func assignIDs(choices []models.ChoiceOption) {
	for i := range choices {
		choices[i].ID = fmt.Sprintf("choice_%d", i+1)
	}
}

func normalizeDifficulty(s string) models.Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "简单", "低":
		return models.DifficultyEasy
	case "medium", "normal", "中等", "中":
		return models.DifficultyMedium
	case "hard", "困难", "高":
		return models.DifficultyHard
	default:
		return models.Difficulty(s)
	}
}

func normalizeKind(s string) models.ChoiceKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "action", "行动":
		return models.ChoiceKindAction
	case "dialogue", "dialog", "对话":
		return models.ChoiceKindDialogue
	case "decision", "choice", "决定", "抉择":
		return models.ChoiceKindDecision
	default:
		return models.ChoiceKind(s)
	}
}
