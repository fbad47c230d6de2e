// Package emotion classifies response text into an emotion and maps it to
// avatar expression parameters. Classification is keyword-based and cheap
// enough to run on every turn.
package emotion

import (
	"strings"

	"github.com/rs/zerolog"
)

// Emotion is a detected emotional state.
type Emotion string

const (
	Neutral     Emotion = "neutral"
	Happy       Emotion = "happy"
	Sad         Emotion = "sad"
	Angry       Emotion = "angry"
	Surprised   Emotion = "surprised"
	Fearful     Emotion = "fearful"
	Disgusted   Emotion = "disgusted"
	Embarrassed Emotion = "embarrassed"
	Thinking    Emotion = "thinking"
)

// scanOrder fixes the tie-break order so analysis is deterministic.
var scanOrder = []Emotion{
	Happy, Sad, Angry, Surprised, Fearful, Disgusted, Embarrassed, Thinking,
}

// Result is the outcome of analyzing one piece of text.
type Result struct {
	Primary    Emotion
	Secondary  Emotion // empty when no runner-up matched
	Confidence float64 // share of matches belonging to the primary emotion
	Intensity  float64 // 0.0 to 1.0, driven by match count
}

// ExpressionMapping ties an emotion to a named avatar expression and the
// model parameter values that render it at full intensity.
type ExpressionMapping struct {
	Name       string
	Parameters map[string]float64
}

// defaultKeywords covers Japanese surface forms and common emoji. Matching
// is substring-based, so each occurrence counts.
var defaultKeywords = map[Emotion][]string{
	Happy: {
		"嬉しい", "うれしい", "楽しい", "たのしい", "幸せ", "しあわせ",
		"やった", "わーい", "最高", "さいこう", "素敵", "すてき",
		"ありがとう", "感謝", "好き", "すき", "大好き", "だいすき",
		"笑", "わらう", "ウキウキ", "ワクワク", "ルンルン",
		"😊", "😄", "😆", "🎉", "❤️", "💕", "✨", "🥰",
	},
	Sad: {
		"悲しい", "かなしい", "寂しい", "さびしい", "つらい", "辛い",
		"残念", "ざんねん", "泣く", "なく", "涙", "なみだ",
		"しょんぼり", "がっかり", "切ない", "せつない",
		"😢", "😭", "😿", "💔",
	},
	Angry: {
		"怒", "おこる", "いかる", "むかつく", "ムカつく", "イライラ",
		"許せない", "ゆるせない", "ふざけるな", "うざい", "ウザい",
		"くそ", "クソ", "最悪", "さいあく",
		"😠", "😡", "💢",
	},
	Surprised: {
		"驚", "おどろく", "びっくり", "ビックリ", "えっ", "ええ",
		"マジ", "まじ", "本当", "ほんとう", "ほんと", "すごい", "凄い",
		"やば", "ヤバ", "信じられない",
		"😲", "😮", "😯", "😱", "🤯",
	},
	Fearful: {
		"怖い", "こわい", "恐い", "恐ろしい", "おそろしい",
		"不安", "ふあん", "心配", "しんぱい", "ドキドキ",
		"ビビる", "びびる",
		"😨", "😰", "😥",
	},
	Disgusted: {
		"気持ち悪い", "きもちわるい", "きもい", "キモい",
		"嫌", "いや", "イヤ", "やだ", "ヤダ",
		"無理", "むり", "ムリ",
		"🤢", "🤮",
	},
	Embarrassed: {
		"恥ずかしい", "はずかしい", "照れ", "てれる",
		"赤面", "せきめん", "きゃー", "キャー",
		"えへへ", "てへ",
		"😳", "🙈", "😅",
	},
	Thinking: {
		"うーん", "ん〜", "んー", "考え", "かんがえ",
		"どう", "なぜ", "なんで", "どうして",
		"わからない", "分からない", "わかんない",
		"難しい", "むずかしい",
		"🤔", "💭",
	},
}

// defaultMappings are Live2D-style parameter sets per emotion, scaled by
// intensity before being applied.
var defaultMappings = map[Emotion]ExpressionMapping{
	Neutral: {
		Name: "neutral",
		Parameters: map[string]float64{
			"ParamMouthSmile": 0.0,
			"ParamEyeSmile":   0.0,
			"ParamBrowLY":     0.0,
			"ParamBrowRY":     0.0,
		},
	},
	Happy: {
		Name: "happy",
		Parameters: map[string]float64{
			"ParamMouthSmile": 1.0,
			"ParamEyeSmile":   1.0,
			"ParamBrowLY":     0.3,
			"ParamBrowRY":     0.3,
		},
	},
	Sad: {
		Name: "sad",
		Parameters: map[string]float64{
			"ParamMouthSmile": -0.5,
			"ParamEyeSmile":   0.0,
			"ParamBrowLY":     -0.5,
			"ParamBrowRY":     -0.5,
		},
	},
	Angry: {
		Name: "angry",
		Parameters: map[string]float64{
			"ParamMouthSmile": -0.3,
			"ParamEyeSmile":   0.0,
			"ParamBrowLY":     -0.8,
			"ParamBrowRY":     -0.8,
			"ParamBrowAngle":  -0.5,
		},
	},
	Surprised: {
		Name: "surprised",
		Parameters: map[string]float64{
			"ParamMouthOpenY": 0.7,
			"ParamEyeLOpen":   1.2,
			"ParamEyeROpen":   1.2,
			"ParamBrowLY":     0.8,
			"ParamBrowRY":     0.8,
		},
	},
	Fearful: {
		Name: "fearful",
		Parameters: map[string]float64{
			"ParamMouthOpenY": 0.3,
			"ParamEyeLOpen":   1.1,
			"ParamEyeROpen":   1.1,
			"ParamBrowLY":     0.5,
			"ParamBrowRY":     0.5,
		},
	},
	Disgusted: {
		Name: "disgusted",
		Parameters: map[string]float64{
			"ParamMouthSmile": -0.7,
			"ParamEyeSmile":   0.3,
			"ParamBrowLY":     -0.3,
			"ParamBrowRY":     -0.3,
		},
	},
	Embarrassed: {
		Name: "embarrassed",
		Parameters: map[string]float64{
			"ParamMouthSmile": 0.3,
			"ParamEyeSmile":   0.5,
			"ParamCheek":      1.0,
		},
	},
	Thinking: {
		Name: "thinking",
		Parameters: map[string]float64{
			"ParamMouthSmile": 0.0,
			"ParamEyeBallX":   0.5,
			"ParamBrowLY":     0.2,
			"ParamBrowRY":     -0.2,
		},
	},
}

// Analyzer scores text against per-emotion keyword lists.
type Analyzer struct {
	keywords map[Emotion][]string
	mappings map[Emotion]ExpressionMapping
	logger   zerolog.Logger
}

// NewAnalyzer creates an analyzer with the built-in keyword and mapping
// tables. Custom keywords extend the defaults per emotion; custom mappings
// replace the default mapping for that emotion.
func NewAnalyzer(logger zerolog.Logger, customKeywords map[Emotion][]string, customMappings map[Emotion]ExpressionMapping) *Analyzer {
	keywords := make(map[Emotion][]string, len(defaultKeywords))
	for e, words := range defaultKeywords {
		keywords[e] = append([]string(nil), words...)
	}
	for e, words := range customKeywords {
		keywords[e] = append(keywords[e], words...)
	}

	mappings := make(map[Emotion]ExpressionMapping, len(defaultMappings))
	for e, m := range defaultMappings {
		mappings[e] = m
	}
	for e, m := range customMappings {
		mappings[e] = m
	}

	return &Analyzer{
		keywords: keywords,
		mappings: mappings,
		logger:   logger.With().Str("component", "emotion").Logger(),
	}
}

// Analyze classifies text. Repeated keyword occurrences all count toward the
// score. Text with no matches is neutral at full confidence and low
// intensity.
func (a *Analyzer) Analyze(text string) Result {
	normalized := strings.ToLower(text)

	scores := make(map[Emotion]int, len(scanOrder))
	total := 0
	for _, e := range scanOrder {
		score := 0
		for _, kw := range a.keywords[e] {
			score += strings.Count(normalized, strings.ToLower(kw))
		}
		scores[e] = score
		total += score
	}

	if total == 0 {
		return Result{
			Primary:    Neutral,
			Confidence: 1.0,
			Intensity:  0.3,
		}
	}

	var primary, secondary Emotion
	best, second := -1, 0
	for _, e := range scanOrder {
		s := scores[e]
		if s > best {
			second, secondary = best, primary
			best, primary = s, e
		} else if s > second {
			second, secondary = s, e
		}
	}
	if second <= 0 {
		secondary = ""
	}

	intensity := float64(best) / 3.0
	if intensity > 1.0 {
		intensity = 1.0
	}

	return Result{
		Primary:    primary,
		Secondary:  secondary,
		Confidence: float64(best) / float64(total),
		Intensity:  intensity,
	}
}

// Mapping returns the expression mapping for an emotion, falling back to
// neutral for unknown values.
func (a *Analyzer) Mapping(e Emotion) ExpressionMapping {
	if m, ok := a.mappings[e]; ok {
		return m
	}
	return a.mappings[Neutral]
}

// AnalyzeAndMap classifies text and returns the expression mapping with its
// parameter values scaled by the detected intensity.
func (a *Analyzer) AnalyzeAndMap(text string) (Result, ExpressionMapping) {
	result := a.Analyze(text)
	base := a.Mapping(result.Primary)

	scaled := ExpressionMapping{
		Name:       base.Name,
		Parameters: make(map[string]float64, len(base.Parameters)),
	}
	for k, v := range base.Parameters {
		scaled.Parameters[k] = v * result.Intensity
	}

	a.logger.Debug().
		Str("emotion", string(result.Primary)).
		Float64("confidence", result.Confidence).
		Float64("intensity", result.Intensity).
		Msg("Analyzed text emotion")

	return result, scaled
}
