package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const generatorPrompt = `Generate a trivia question like Trivia Crack/Royale. Topic: %q.
Return STRICT JSON:
{
  "question": "Your trivia question?",
  "answers": ["A","B","C","D"],
  "correct": "A"
}
- Answers short (1-5 words)
- No textbook tone; allow pop culture/twists`

const graderPrompt = `You are a trivia creativity grader. Your job is to rate how original, clever, or surprising a trivia question is.

Give a score from 1 to 10:
- 1 means boring, predictable, unoriginal
- 5 means average or typical trivia
- 10 means highly creative, funny, unexpected, or especially clever

Only respond with the number.`

var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	firstNumber  = regexp.MustCompile(`\d+(\.\d+)?`)
	quoteFixer   = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// NewOpenAIClient builds a client for the generator and grader.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) openai.Client {
	return openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
}

type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAIGenerator(client openai.Client, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, temperature: 1.2}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, category string) (Candidate, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a trivia question generator."),
			openai.UserMessage(fmt.Sprintf(generatorPrompt, category)),
		},
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("generate question: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Candidate{}, fmt.Errorf("%w: empty completion", ErrGenerationRejected)
	}
	return ParseCandidate(resp.Choices[0].Message.Content)
}

// ParseCandidate decodes a model reply, tolerating code fences, control
// characters and typographic quotes.
func ParseCandidate(raw string) (Candidate, error) {
	var body struct {
		Question string   `json:"question"`
		Answers  []string `json:"answers"`
		Correct  string   `json:"correct"`
	}
	if err := json.Unmarshal([]byte(CleanJSON(raw)), &body); err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrGenerationRejected, err)
	}
	return Candidate{Text: body.Question, Answers: body.Answers, Correct: body.Correct}, nil
}

func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "```json") {
		s = s[7:]
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = controlChars.ReplaceAllString(s, "")
	s = quoteFixer.Replace(s)
	return strings.TrimSpace(s)
}

type OpenAIGrader struct {
	client openai.Client
	model  string
}

func NewOpenAIGrader(client openai.Client, model string) *OpenAIGrader {
	return &OpenAIGrader{client: client, model: model}
}

// Grade never fails the caller on a bad reply: unusable replies score 1.
func (g *OpenAIGrader) Grade(ctx context.Context, c Candidate) (float64, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(0.7),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(graderPrompt),
			openai.UserMessage(fmt.Sprintf("Rate this:\nQuestion: %s\nAnswers: %s", c.Text, strings.Join(c.Answers, ", "))),
		},
	})
	if err != nil {
		return 1, fmt.Errorf("grade question: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 1, errors.New("grade question: empty completion")
	}
	return ParseScore(resp.Choices[0].Message.Content), nil
}

// ParseScore reads the first number in reply and clamps it to [1, 10].
func ParseScore(reply string) float64 {
	m := firstNumber.FindString(reply)
	score, err := strconv.ParseFloat(m, 64)
	if err != nil {
		score = 0
	}
	return min(10, max(1, score))
}
