// Package tasks is the task queue processor: it dispatches typed task
// messages to handlers and writes each result to the result store.
package tasks

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

const (
	TypeCompute   = "compute"
	TypeTransform = "transform"
	// TypeFail always fails. It exists to exercise dead-lettering.
	TypeFail = "fail"
)

// Task is the body of a task queue message.
type Task struct {
	TaskType    string          `json:"task_type"`
	Data        json.RawMessage `json:"data,omitempty"`
	SubmittedAt *string         `json:"submitted_at,omitempty"`
}

// Result is the artifact stored for a processed task. Exactly one of
// Computed and Transformed is set.
type Result struct {
	TaskType string `json:"task_type"`
	Input    any    `json:"input"`
	*Computed
	*Transformed
	MessageID   string `json:"message_id"`
	ProcessedAt string `json:"processed_at"`
}

type Computed struct {
	Sum     float64  `json:"sum"`
	Average float64  `json:"average"`
	Max     *float64 `json:"max"`
	Min     *float64 `json:"min"`
}

type Transformed struct {
	Uppercase string `json:"uppercase"`
	Lowercase string `json:"lowercase"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
}

// Handler turns the data of one task into its result.
type Handler func(data json.RawMessage) (Result, error)

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.UnrecoverableTask("malformed task data: " + err.Error())
	}
	return nil
}

// Compute reports sum, average, max and min of data.numbers. An empty list
// has no max or min.
func Compute(data json.RawMessage) (Result, error) {
	var in struct {
		Numbers []float64 `json:"numbers"`
	}
	if err := decodeData(data, &in); err != nil {
		return Result{}, err
	}
	if in.Numbers == nil {
		in.Numbers = []float64{}
	}

	out := &Computed{}
	for i, n := range in.Numbers {
		out.Sum += n
		if i == 0 || n > *out.Max {
			out.Max = &in.Numbers[i]
		}
		if i == 0 || n < *out.Min {
			out.Min = &in.Numbers[i]
		}
	}
	if len(in.Numbers) > 0 {
		out.Average = out.Sum / float64(len(in.Numbers))
	}
	return Result{TaskType: TypeCompute, Input: in.Numbers, Computed: out}, nil
}

// Transform reports case variants and counts of data.text. Words are
// whitespace separated; characters are counted as runes.
func Transform(data json.RawMessage) (Result, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := decodeData(data, &in); err != nil {
		return Result{}, err
	}
	return Result{
		TaskType: TypeTransform,
		Input:    in.Text,
		Transformed: &Transformed{
			Uppercase: strings.ToUpper(in.Text),
			Lowercase: strings.ToLower(in.Text),
			WordCount: len(strings.Fields(in.Text)),
			CharCount: utf8.RuneCountInString(in.Text),
		},
	}, nil
}
