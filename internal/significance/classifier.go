// Package significance scores how memory-worthy a user message is.
package significance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/metrics"
)

// Scores.
const (
	NotSignificant = 0
	Potential      = 1
	Significant    = 2
)

// ErrClassificationParse means the model's reply was not a valid classification.
var ErrClassificationParse = errors.New("classification parse error")

// Result is a classification of one user message.
type Result struct {
	Score  int    `json:"isSignificant"`
	Reason string `json:"reason"`
}

// Unknown is what callers record when classification fails.
var Unknown = Result{Score: NotSignificant, Reason: "unknown"}

var tracer = otel.Tracer("github.com/hattiebot/familiar/internal/significance")

const resultSchema = `{
  "type": "object",
  "properties": {
    "reason": {"type": "string"},
    "isSignificant": {"type": "integer", "minimum": 0, "maximum": 2}
  },
  "required": ["isSignificant"]
}`

const rubric = `You are an advanced and highly intelligent personal assistant for a user. Your goal is to learn about the user and their preferences.

Given the following user message, determine if it is significant enough to be stored as part of the permanent user profile.

Examples of significant messages:
- A user talks about their preferences
- A user talks about their history
- A user talks about their goals
- A user talks about their values
- A user talks about their beliefs
- A user talks about their interests
- A user talks about their hobbies

Examples of insignificant messages:
- A user asks for the weather
- A user asks for the time
- A user asks for help with a task
- A user asks for recommendations
- A user asks for the news

But of course, use your best judgement.

Return a JSON object with the following format:

{
  "reason": string - a short explanation for your answer,
  "isSignificant": number - 0 if the message is insignificant, 1 if potentially useful or leading up to something important, 2 if important
}

The message is: `

// Classifier asks the model for a structured significance score.
type Classifier struct {
	llm    core.LLMClient
	schema *jsonschema.Schema
	log    zerolog.Logger
}

// New returns a classifier that uses llm in JSON mode.
func New(llm core.LLMClient, log zerolog.Logger) (*Classifier, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("significance.json", doc); err != nil {
		return nil, err
	}
	schema, err := c.Compile("significance.json")
	if err != nil {
		return nil, err
	}
	return &Classifier{
		llm:    llm,
		schema: schema,
		log:    log.With().Str("component", "significance").Logger(),
	}, nil
}

// Classify scores prompt. Transport failures are returned as-is; a reply that is
// not a valid classification wraps ErrClassificationParse.
func (c *Classifier) Classify(ctx context.Context, prompt string) (Result, error) {
	ctx, span := tracer.Start(ctx, "significance.classify")
	defer span.End()

	out, err := c.llm.ChatCompletion(ctx, core.CompletionRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: rubric + prompt}},
		JSONMode: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Unknown, err
	}
	res, err := c.Parse(out.Content)
	if err != nil {
		c.log.Debug().Str("reply", out.Content).Msg("unparseable classification")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Unknown, err
	}
	span.SetAttributes(attribute.Int("significance.score", res.Score))
	metrics.Classifications.WithLabelValues(fmt.Sprint(res.Score)).Inc()
	return res, nil
}

// Parse validates a model reply against the result schema.
func (c *Classifier) Parse(reply string) (Result, error) {
	body := stripFence(reply)
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return Unknown, fmt.Errorf("%w: %v", ErrClassificationParse, err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return Unknown, fmt.Errorf("%w: %v", ErrClassificationParse, err)
	}
	var raw struct {
		Score  float64 `json:"isSignificant"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Unknown, fmt.Errorf("%w: %v", ErrClassificationParse, err)
	}
	return Result{Score: int(raw.Score), Reason: raw.Reason}, nil
}

// stripFence removes a markdown code fence some models put around JSON even in JSON mode.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
