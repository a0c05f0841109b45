package agent

import (
	"context"
	"strings"
)

// RuleClassifier routes with keyword heuristics. It backs the mock
// adapter mode and keeps routing deterministic in tests; the heuristics
// reproduce the examples the model prompt teaches.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

var (
	greetingWords = []string{"你好", "您好", "嗨", "哈喽", "hello", "hi", "早上好", "下午好", "晚上好", "在吗"}

	interviewWords = []string{
		"面试", "练习", "练一下", "考考我", "模拟", "回答", "简历", "逐字稿",
		"自我介绍", "离职", "项目", "优化", "提问", "录音", "岗位", "职位",
		"offer", "hr", "薪资", "跳槽", "求职",
	}

	practiceWords = []string{"练习", "练一下", "考考我", "模拟", "压测", "开始面试", "提问", "语音", "录音", "你来问"}

	optimizeWords = []string{"优化", "润色", "改得更好", "改进", "重写", "修改"}

	writeWords = []string{"帮我写", "写一个", "写个", "写一份", "生成一个", "生成一份"}

	researchWords = []string{"怎么回答", "如何回答", "怎么答", "回答思路", "分析一下这个问题"}

	questionIndicators = []string{"请", "介绍", "说说", "谈谈", "为什么", "如何", "怎么", "什么"}
)

// topicQuestions rewrites a practice topic into interviewer phrasing.
var topicQuestions = []struct {
	topic    string
	question string
}{
	{"自我介绍", "请做一个简短的自我介绍"},
	{"离职", "你为什么从上一段工作中离职"},
	{"项目经验", "请介绍一个你主导过的项目"},
	{"项目", "请介绍一下这个项目"},
	{"优缺点", "你最大的优点和缺点是什么"},
	{"职业规划", "说说你未来三到五年的职业规划"},
	{"加入我们", "你为什么想加入我们公司"},
	{"选择我们", "你为什么选择我们公司"},
}

func (c *RuleClassifier) Classify(_ context.Context, in ClassifyInput) (Decision, error) {
	input := strings.TrimSpace(in.UserInput)
	lower := strings.ToLower(input)

	if isGreeting(lower) {
		return Decision{Intent: IntentGeneral, Target: TargetDirect, Reply: greetingReply}, nil
	}
	if !containsAny(lower, interviewWords) {
		return Decision{Intent: IntentGeneral, Target: TargetDirect, Reply: refusalReply}, nil
	}

	switch {
	case containsAny(input, writeWords) || strings.Contains(input, "逐字稿"):
		if containsAny(input, optimizeWords) {
			return Decision{Intent: IntentAnswerOptimization, Target: TargetChat, Question: in.CurrentQuestion}, nil
		}
		return Decision{Intent: IntentScriptWriting, Target: TargetChat, Question: extractTopicQuestion(input)}, nil

	case containsAny(input, optimizeWords) && strings.Contains(input, "简历"):
		return Decision{Intent: IntentResumeOptimization, Target: TargetChat}, nil

	case containsAny(input, optimizeWords):
		return Decision{Intent: IntentAnswerOptimization, Target: TargetChat, Question: extractEmbeddedQuestion(input)}, nil

	case containsAny(input, practiceWords):
		return Decision{Intent: IntentVoicePractice, Target: TargetInterviewer, Question: extractTopicQuestion(input)}, nil

	case containsAny(input, researchWords):
		return Decision{Intent: IntentQuestionResearch, Target: TargetChat, Question: extractEmbeddedQuestion(input)}, nil

	case strings.Contains(input, "简历"):
		return Decision{Intent: IntentResumeOptimization, Target: TargetChat}, nil

	default:
		return Decision{Intent: IntentInterviewChat, Target: TargetChat}, nil
	}
}

func isGreeting(lower string) bool {
	if len([]rune(lower)) > 8 {
		return false
	}
	return containsAny(lower, greetingWords)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// extractTopicQuestion turns a practice request into the question to
// ask: a known topic maps to canonical phrasing, otherwise text that
// already reads like a question is used verbatim after stripping the
// request prefix.
func extractTopicQuestion(input string) string {
	for _, tq := range topicQuestions {
		if strings.Contains(input, tq.topic) {
			return tq.question
		}
	}
	q := input
	for _, prefix := range []string{"我想练习", "帮我练习", "练习一下", "练习：", "练习:", "练习", "考考我"} {
		q = strings.TrimPrefix(q, prefix)
	}
	q = strings.Trim(q, " ：:，,。.？?")
	q = strings.TrimSuffix(q, "这个问题")
	if q != "" && containsAny(q, questionIndicators) {
		return strings.TrimSpace(q)
	}
	return ""
}

// extractEmbeddedQuestion pulls the question out of inputs shaped like
// "帮我优化这个回答：问题是xxx，我的回答是xxx".
func extractEmbeddedQuestion(input string) string {
	if !strings.Contains(input, "问题") {
		return ""
	}
	rest := input[strings.Index(input, "问题")+len("问题"):]
	rest = strings.TrimLeft(rest, "是：: ")
	for _, stop := range []string{"，我的回答", ",我的回答", "，回答", "我的回答"} {
		if at := strings.Index(rest, stop); at >= 0 {
			rest = rest[:at]
			break
		}
	}
	return strings.Trim(rest, " ，,。.？?：:")
}
