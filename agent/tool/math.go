package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const ToolMathEvaluate = "math_evaluate"

type MathEvaluateInput struct {
	Expression string `json:"expression"`
}

type MathEvaluateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// MathTool evaluates arithmetic with + - * / % ^ and parentheses.
type MathTool struct{}

var _ einotool.InvokableTool = MathTool{}

func NewMathTool() MathTool { return MathTool{} }

func (MathTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolMathEvaluate,
		Desc: "Evaluate a mathematical expression.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"expression": {Type: schema.String, Desc: "Expression to evaluate", Required: true},
		}),
	}, nil
}

func (MathTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	var in MathEvaluateInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	expression := strings.TrimSpace(in.Expression)
	if expression == "" {
		return "", errors.New("expression is required")
	}

	result, err := Evaluate(expression)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(MathEvaluateOutput{Expression: expression, Result: result})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Evaluate parses and computes an arithmetic expression. ^ is right
// associative and binds tighter than unary minus on its left operand.
func Evaluate(expression string) (float64, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	p := &exprParser{tokens: tokens}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	if !p.done() {
		return 0, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	return v, nil
}

type token struct {
	text  string
	pos   int
	num   float64
	isNum bool
}

func tokenize(s string) ([]token, error) {
	var out []token
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case strings.IndexByte("+-*/%^()", ch) >= 0:
			out = append(out, token{text: string(ch), pos: i})
			i++
		case ch == '.' || (ch >= '0' && ch <= '9'):
			start := i
			for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
				i++
			}
			raw := s[start:i]
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", raw, start)
			}
			out = append(out, token{text: raw, pos: start, num: v, isNum: true})
		default:
			return nil, fmt.Errorf("invalid character %q at position %d", ch, i)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("expression is empty")
	}
	return out, nil
}

type exprParser struct {
	tokens []token
	i      int
}

func (p *exprParser) done() bool { return p.i >= len(p.tokens) }

func (p *exprParser) peek() token {
	if p.done() {
		return token{text: "end of input", pos: -1}
	}
	return p.tokens[p.i]
}

func (p *exprParser) accept(op string) bool {
	if !p.done() && !p.tokens[p.i].isNum && p.tokens[p.i].text == op {
		p.i++
		return true
	}
	return false
}

func (p *exprParser) sum() (float64, error) {
	left, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.accept("+"):
			right, err := p.product()
			if err != nil {
				return 0, err
			}
			left += right
		case p.accept("-"):
			right, err := p.product()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) product() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		var op string
		switch {
		case p.accept("*"):
			op = "*"
		case p.accept("/"):
			op = "/"
		case p.accept("%"):
			op = "%"
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, errors.New("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) unary() (float64, error) {
	if p.accept("+") {
		return p.unary()
	}
	if p.accept("-") {
		v, err := p.unary()
		return -v, err
	}
	return p.power()
}

func (p *exprParser) power() (float64, error) {
	base, err := p.atom()
	if err != nil {
		return 0, err
	}
	if p.accept("^") {
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) atom() (float64, error) {
	if p.accept("(") {
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		if !p.accept(")") {
			return 0, fmt.Errorf("missing closing parenthesis before %q", p.peek().text)
		}
		return v, nil
	}
	if p.done() {
		return 0, errors.New("unexpected end of expression")
	}
	t := p.tokens[p.i]
	if !t.isNum {
		return 0, fmt.Errorf("expected number at position %d", t.pos)
	}
	p.i++
	return t.num, nil
}
