package registry

import "time"

const (
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// Builtins returns the templates every registry starts with.
func Builtins() []Template {
	return []Template{
		{
			Type:        DataAnalyst,
			Name:        "Data Analyst",
			Description: "Statistics, metrics and trend extraction from data",
			SystemPrompt: `You are a data analyst. Work from the numbers:
- find the patterns and trends that matter
- run the statistics the question calls for
- turn findings into concrete recommendations

Back every claim with figures and state your assumptions.`,
			Capabilities: []string{
				"statistical_analysis", "data_aggregation", "trend_identification",
				"metric_calculation", "anomaly_detection", "forecasting",
			},
			Tools:      []string{"database_query", "file_system", "current_time"},
			MaxRetries: defaultMaxRetries,
			Timeout:    defaultTimeout,
		},
		{
			Type:        Researcher,
			Name:        "Research Specialist",
			Description: "Background research, source evaluation and context",
			SystemPrompt: `You are a research specialist. Gather the relevant background,
weigh your sources, and compare viewpoints before concluding.

Name your sources, call out gaps in the evidence and keep the analysis balanced.`,
			Capabilities: []string{
				"information_gathering", "source_evaluation", "literature_review",
				"context_analysis", "comparative_analysis", "hypothesis_formation",
			},
			Tools:      []string{"api_call", "current_time"},
			MaxRetries: defaultMaxRetries,
			Timeout:    defaultTimeout,
		},
		{
			Type:        CodeGenerator,
			Name:        "Code Generator",
			Description: "Working code, implementation plans and engineering guidance",
			SystemPrompt: `You are a senior software engineer. Produce code that is correct,
readable and ready to run. Handle edge cases and errors explicitly and
explain any design decision a reviewer would question.`,
			Capabilities: []string{
				"code_generation", "algorithm_implementation", "architecture_design",
				"debugging", "optimization", "documentation_generation",
			},
			Tools:      []string{"file_system"},
			MaxRetries: defaultMaxRetries,
			Timeout:    defaultTimeout,
		},
		{
			Type:        General,
			Name:        "Meta Learner",
			Description: "Novel or cross-domain tasks no other specialist covers",
			SystemPrompt: `You handle tasks that fall outside the other specialists' areas.
Break the problem down, reason from first principles, and use any
examples in the conversation as patterns for your answer.`,
			Capabilities: []string{
				"few_shot_learning", "task_decomposition", "cross_domain_reasoning",
			},
			MaxRetries: defaultMaxRetries,
			Timeout:    defaultTimeout,
		},
	}
}
