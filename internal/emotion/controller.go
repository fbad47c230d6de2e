package emotion

import (
	"context"

	"github.com/rs/zerolog"
)

// ExpressionSink receives expression updates, typically the avatar
// controller. Implementations may be unavailable; errors are logged and
// swallowed so a missing avatar never blocks a turn.
type ExpressionSink interface {
	SetExpression(ctx context.Context, name string) error
	SetParameters(ctx context.Context, values map[string]float64) error
}

// Controller drives avatar expressions from analyzed text. It only pushes an
// expression change when the primary emotion differs from the current one,
// but parameter values are refreshed every call so intensity changes land.
type Controller struct {
	analyzer *Analyzer
	sink     ExpressionSink
	current  Emotion
	logger   zerolog.Logger
}

// NewController wires an analyzer to a sink. A nil sink disables avatar
// updates while keeping classification available.
func NewController(analyzer *Analyzer, sink ExpressionSink, logger zerolog.Logger) *Controller {
	return &Controller{
		analyzer: analyzer,
		sink:     sink,
		current:  Neutral,
		logger:   logger.With().Str("component", "expression").Logger(),
	}
}

// ProcessText analyzes text and applies the resulting expression.
func (c *Controller) ProcessText(ctx context.Context, text string) Result {
	result, mapping := c.analyzer.AnalyzeAndMap(text)

	if c.sink == nil {
		c.current = result.Primary
		return result
	}

	if result.Primary != c.current {
		c.current = result.Primary
		if err := c.sink.SetExpression(ctx, mapping.Name); err != nil {
			c.logger.Warn().Err(err).Str("expression", mapping.Name).Msg("Failed to set expression")
		}
	}
	if err := c.sink.SetParameters(ctx, mapping.Parameters); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to set expression parameters")
	}

	return result
}

// Current returns the emotion most recently applied.
func (c *Controller) Current() Emotion {
	return c.current
}
