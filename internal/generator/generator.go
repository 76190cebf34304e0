// Package generator produces draft questions from a syllabus using an
// OpenAI-compatible chat completion API.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stemsi/exam-engine/internal/model"
)

// ErrEmptyResponse is returned when the model answers without usable questions.
var ErrEmptyResponse = errors.New("generator returned no questions")

// Request describes a batch of questions to generate.
type Request struct {
	Syllabus   string
	Subject    string
	Type       model.QuestionType
	Count      int
	Difficulty string
	Marks      int
}

// Generator produces unsaved questions.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]model.Question, error)
}

// OpenAI talks to any OpenAI-compatible endpoint.
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a generator. An empty baseURL uses the public OpenAI endpoint.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(cfg),
		model: modelName,
	}
}

type generatedQuestion struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

type generatedBatch struct {
	Questions []generatedQuestion `json:"questions"`
}

// Generate asks the model for req.Count questions and drops malformed entries.
func (g *OpenAI) Generate(ctx context.Context, req Request) ([]model.Question, error) {
	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Syllabus},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generator API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	raw := resp.Choices[0].Message.Content
	var batch generatedBatch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		return nil, fmt.Errorf("parse generator response: %w", err)
	}

	questions := toQuestions(req, batch.Questions)
	if len(questions) == 0 {
		return nil, ErrEmptyResponse
	}
	return questions, nil
}

func toQuestions(req Request, generated []generatedQuestion) []model.Question {
	out := make([]model.Question, 0, len(generated))
	for _, gq := range generated {
		text := strings.TrimSpace(gq.Text)
		if text == "" {
			continue
		}
		q := model.Question{
			Type:        req.Type,
			Subject:     req.Subject,
			Text:        text,
			Explanation: strings.TrimSpace(gq.Explanation),
			Marks:       req.Marks,
			Active:      true,
		}
		if req.Type == model.QuestionTypeMCQ {
			opts := make([]string, 0, len(gq.Options))
			for _, o := range gq.Options {
				if o = strings.TrimSpace(o); o != "" {
					opts = append(opts, o)
				}
			}
			answer := strings.TrimSpace(gq.CorrectAnswer)
			if len(opts) < 2 || !slices.Contains(opts, answer) {
				continue
			}
			q.Options = opts
			q.CorrectAnswer = answer
		} else {
			q.CorrectAnswer = strings.TrimSpace(gq.CorrectAnswer)
		}
		out = append(out, q)
		if req.Count > 0 && len(out) == req.Count {
			break
		}
	}
	return out
}

func buildSystemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You write exam questions for the subject: " + req.Subject + ".\n")
	sb.WriteString(fmt.Sprintf("Write exactly %d questions based only on the syllabus provided by the user.\n", req.Count))
	if req.Difficulty != "" {
		sb.WriteString("Difficulty: " + req.Difficulty + ".\n")
	}
	if req.Type == model.QuestionTypeMCQ {
		sb.WriteString("Each question is multiple choice with four options. correct_answer must be the exact text of one option.\n")
	} else {
		sb.WriteString("Each question is descriptive. Leave options empty and put a model answer in correct_answer.\n")
	}
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"text": "<question>", "options": ["<option>"], "correct_answer": "<answer>", "explanation": "<why>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}
