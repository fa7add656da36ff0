// Package dice implements the roll_dice tool: standard tabletop dice
// notation (NdS, NdS+M, NdS-M) evaluated with [math/rand/v2]. Handlers are
// safe for concurrent use.
package dice

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/openquill/dmforge/internal/tool"
)

const maxDice = 1000

type rollArgs struct {
	Expression string `json:"expression"`
}

type rollResult struct {
	Expression string `json:"expression"`

	// Rolls holds the individual die results before the modifier.
	Rolls []int `json:"rolls"`

	Modifier int `json:"modifier,omitempty"`
	Total    int `json:"total"`
}

// expression is a parsed dice expression.
type expression struct {
	count    int
	sides    int
	modifier int
}

// parse parses NdS with an optional +M or -M suffix. The count defaults to
// 1 when omitted ("d20" reads as "1d20").
func parse(raw string) (expression, error) {
	s := strings.ToLower(strings.TrimSpace(raw))

	countStr, rest, found := strings.Cut(s, "d")
	if !found {
		return expression{}, fmt.Errorf("dice: invalid expression %q: missing 'd' separator", raw)
	}

	e := expression{count: 1}
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return expression{}, fmt.Errorf("dice: invalid dice count %q in %q", countStr, raw)
		}
		e.count = n
	}
	if e.count < 1 || e.count > maxDice {
		return expression{}, fmt.Errorf("dice: dice count must be between 1 and %d, got %d in %q", maxDice, e.count, raw)
	}

	sidesStr := rest
	if before, after, ok := strings.Cut(rest, "+"); ok {
		m, err := strconv.Atoi(after)
		if err != nil {
			return expression{}, fmt.Errorf("dice: invalid modifier %q in %q", after, raw)
		}
		sidesStr, e.modifier = before, m
	} else if before, after, ok := strings.Cut(rest, "-"); ok {
		m, err := strconv.Atoi(after)
		if err != nil {
			return expression{}, fmt.Errorf("dice: invalid modifier %q in %q", after, raw)
		}
		sidesStr, e.modifier = before, -m
	}

	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return expression{}, fmt.Errorf("dice: invalid sides %q in %q", sidesStr, raw)
	}
	if sides < 1 {
		return expression{}, fmt.Errorf("dice: sides must be ≥ 1, got %d in %q", sides, raw)
	}
	e.sides = sides

	return e, nil
}

func rollHandler(_ context.Context, args string) (string, error) {
	var a rollArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("dice: parse arguments: %w", err)
	}
	if strings.TrimSpace(a.Expression) == "" {
		return "", fmt.Errorf("dice: expression must not be empty")
	}

	e, err := parse(a.Expression)
	if err != nil {
		return "", err
	}

	rolls := make([]int, e.count)
	total := e.modifier
	for i := range e.count {
		r := rand.IntN(e.sides) + 1
		rolls[i] = r
		total += r
	}

	out, err := json.Marshal(rollResult{
		Expression: a.Expression,
		Rolls:      rolls,
		Modifier:   e.modifier,
		Total:      total,
	})
	if err != nil {
		return "", fmt.Errorf("dice: encode result: %w", err)
	}
	return string(out), nil
}

// Tools returns the dice tools for registry registration.
func Tools() []tool.Tool {
	return []tool.Tool{
		{
			Definition: tool.Definition{
				Name:        "roll_dice",
				Description: "Roll dice using standard notation and return each die result plus the total. Supports expressions such as 2d6+3, 1d20, or 4d8-1.",
				Parameters: []tool.Parameter{
					{Name: "expression", Type: "string", Description: "Dice expression, e.g. 2d6+3, 1d20, 4d8-1", Required: true},
				},
			},
			Handler: rollHandler,
		},
	}
}
