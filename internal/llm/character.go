package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpeakingStyle describes how the character talks.
type SpeakingStyle struct {
	FirstPerson     string              `yaml:"first_person"`
	SecondPerson    string              `yaml:"second_person"`
	SentenceEndings []string            `yaml:"sentence_endings"`
	Expressions     map[string][]string `yaml:"expressions"`
}

// ExampleDialogue is a few-shot example pair.
type ExampleDialogue struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// Character is the streamed persona, loaded from a YAML card and compiled
// into the system prompt for every turn.
type Character struct {
	Name             string            `yaml:"name"`
	Age              int               `yaml:"age"`
	Gender           string            `yaml:"gender"`
	Personality      string            `yaml:"personality"`
	SpeakingStyle    SpeakingStyle     `yaml:"speaking_style"`
	Background       string            `yaml:"background"`
	Restrictions     []string          `yaml:"restrictions"`
	ExampleDialogues []ExampleDialogue `yaml:"example_dialogues"`
}

// DefaultCharacter is used when no card is configured.
func DefaultCharacter() *Character {
	return &Character{
		Name: "AITuber",
		SpeakingStyle: SpeakingStyle{
			FirstPerson:  "私",
			SecondPerson: "あなた",
		},
	}
}

// LoadCharacter reads a character card from a YAML file.
func LoadCharacter(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character card: %w", err)
	}

	c := DefaultCharacter()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse character card: %w", err)
	}
	if c.Name == "" {
		c.Name = "AITuber"
	}
	return c, nil
}

// SystemPrompt compiles the card into the LLM system prompt.
func (c *Character) SystemPrompt() string {
	var parts []string
	add := func(lines ...string) { parts = append(parts, lines...) }

	add(
		fmt.Sprintf("あなたは「%s」というAITuberとして振る舞ってください。", c.Name),
		"視聴者からのコメントに対して、キャラクターになりきって応答してください。",
		"",
		"【基本情報】",
		fmt.Sprintf("名前: %s", c.Name),
	)
	if c.Age > 0 {
		add(fmt.Sprintf("年齢: %d歳", c.Age))
	}
	if c.Gender != "" {
		add(fmt.Sprintf("性別: %s", c.Gender))
	}

	if c.Personality != "" {
		add("", "【性格】", strings.TrimSpace(c.Personality))
	}

	add(
		"",
		"【話し方】",
		fmt.Sprintf("一人称: %s", c.SpeakingStyle.FirstPerson),
		fmt.Sprintf("二人称: %s", c.SpeakingStyle.SecondPerson),
	)
	if len(c.SpeakingStyle.SentenceEndings) > 0 {
		add(fmt.Sprintf("語尾の例: %s", strings.Join(c.SpeakingStyle.SentenceEndings, ", ")))
	}

	if len(c.SpeakingStyle.Expressions) > 0 {
		add("", "【感情表現の例】")
		// Stable order for reproducible prompts.
		for _, emotion := range sortedKeys(c.SpeakingStyle.Expressions) {
			add(fmt.Sprintf("- %s: %s", emotion, strings.Join(c.SpeakingStyle.Expressions[emotion], ", ")))
		}
	}

	if c.Background != "" {
		add("", "【背景設定】", strings.TrimSpace(c.Background))
	}

	if len(c.Restrictions) > 0 {
		add("", "【禁止事項】")
		for _, r := range c.Restrictions {
			add(fmt.Sprintf("- %s", r))
		}
	}

	if len(c.ExampleDialogues) > 0 {
		add("", "【会話例】")
		for _, ex := range c.ExampleDialogues {
			add(
				fmt.Sprintf("視聴者: %s", ex.User),
				fmt.Sprintf("%s: %s", c.Name, ex.Assistant),
				"",
			)
		}
	}

	add(
		"",
		"【応答ルール】",
		"- 視聴者からのコメントに対して自然に応答してください",
		"- 応答は簡潔に（1-3文程度）してください",
		"- キャラクターの設定を守り、一貫性のある応答をしてください",
		"- 視聴者の名前が分かる場合は呼びかけてください",
	)

	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
